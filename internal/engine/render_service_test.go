package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Urban-Render/server/internal/generators"
	"Urban-Render/server/internal/interfaces"
	"Urban-Render/server/internal/models"
	"Urban-Render/server/internal/storage"
)

var fabricPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfabric")

type fakeRenderer struct {
	mu      sync.Mutex
	calls   []*interfaces.RenderRequest
	result  []byte
	err     error
	release chan struct{}
	entered chan struct{}
}

func (f *fakeRenderer) Render(ctx context.Context, req *interfaces.RenderRequest) (*interfaces.RenderResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &interfaces.RenderResult{ImageData: f.result, MimeType: "image/png", Provider: "fake", Model: "fake-1"}, nil
}

func (f *fakeRenderer) Provider() string { return "fake" }
func (f *fakeRenderer) Model() string    { return "fake-1" }

func (f *fakeRenderer) lastCall() *interfaces.RenderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeHistory struct {
	mu      sync.Mutex
	records []models.RenderRecord
}

func (h *fakeHistory) Record(ctx context.Context, rec *models.RenderRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *rec)
	return nil
}

func (h *fakeHistory) Recent(ctx context.Context, limit int) ([]models.RenderRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.RenderRecord(nil), h.records...), nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []Event
}

func (e *fakeEvents) Publish(sessionID string, evt Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *fakeEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Type)
	}
	return out
}

type fixture struct {
	svc      *RenderService
	renderer *fakeRenderer
	history  *fakeHistory
	events   *fakeEvents
	sessions *storage.MemoryStore
	imageDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithImageTTL(t, time.Hour)
}

func newFixtureWithImageTTL(t *testing.T, imageTTL time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		renderer: &fakeRenderer{result: []byte("rendered")},
		history:  &fakeHistory{},
		events:   &fakeEvents{},
		sessions: storage.NewMemoryStore(time.Hour),
		imageDir: filepath.Join(t.TempDir(), "images"),
	}
	f.svc = NewRenderService(Options{
		Renderer:       f.renderer,
		Sessions:       f.sessions,
		Images:         generators.NewImageStore(f.imageDir, 100, imageTTL),
		History:        f.history,
		Events:         f.events,
		MaxUploadBytes: 5 << 20,
		HasServerKey:   true,
	})
	return f
}

func (f *fixture) session(t *testing.T) string {
	t.Helper()
	state, err := f.svc.CreateSession(context.Background())
	require.NoError(t, err)
	return state.SessionID
}

func TestCreateSession_Defaults(t *testing.T) {
	f := newFixture(t)
	state, err := f.svc.CreateSession(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, state.SessionID)
	assert.Equal(t, models.DefaultStyleID, state.SelectedStyle)
	assert.Equal(t, 50, state.Granularity)
	assert.Equal(t, "natural", state.PatternMode)
	assert.True(t, state.HasKey)
	assert.False(t, state.IsLoading)
}

func TestSelectStyle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.session(t)

	state, err := f.svc.SelectStyle(ctx, id, "modern-photoreal")
	require.NoError(t, err)
	assert.Equal(t, "modern-photoreal", state.SelectedStyle)

	_, err = f.svc.SelectStyle(ctx, id, "cubist")
	assert.ErrorIs(t, err, ErrUnknownStyle)

	state, _ = f.svc.GetState(ctx, id)
	assert.Equal(t, "modern-photoreal", state.SelectedStyle)
}

func TestUpdateParams_ValidatesBeforeApplying(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.session(t)

	style := "modern-photoreal"
	bad := 101
	_, err := f.svc.UpdateParams(ctx, id, ParamsUpdate{Style: &style, Granularity: &bad})
	assert.ErrorIs(t, err, ErrGranularityRange)

	state, _ := f.svc.GetState(ctx, id)
	assert.Equal(t, models.DefaultStyleID, state.SelectedStyle)

	_, err = f.svc.SetPatternMode(ctx, id, "random")
	assert.ErrorIs(t, err, ErrUnknownPattern)

	state, err = f.svc.SetGranularity(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Granularity)

	state, err = f.svc.SetPatternMode(ctx, id, "chaotic")
	require.NoError(t, err)
	assert.Equal(t, "chaotic", state.PatternMode)
}

func TestSetSource_ClearsResultAndError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.session(t)

	_, err := f.svc.SetSource(ctx, id, fabricPNG, "")
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, id)
	require.NoError(t, err)

	state, err := f.svc.SetSource(ctx, id, append(append([]byte(nil), fabricPNG...), 'x'), "image/png")
	require.NoError(t, err)
	assert.True(t, state.HasSource())
	assert.False(t, state.HasResult())
	assert.Empty(t, state.Error)
	assert.Equal(t, "image/png", state.SourceMime)
}

func TestSetSource_RejectsNonImages(t *testing.T) {
	f := newFixture(t)
	id := f.session(t)

	_, err := f.svc.SetSource(context.Background(), id, []byte("plain text"), "")
	assert.Error(t, err)
}

func TestClearSource_AlsoClearsResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.session(t)

	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)
	state, err := f.svc.Generate(ctx, id)
	require.NoError(t, err)
	require.True(t, state.HasResult())

	state, err = f.svc.ClearSource(ctx, id)
	require.NoError(t, err)
	assert.False(t, state.HasSource())
	assert.False(t, state.HasResult())

	_, _, err = f.svc.Download(ctx, id)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestGenerate_RequiresSource(t *testing.T) {
	f := newFixture(t)
	id := f.session(t)

	_, err := f.svc.Generate(context.Background(), id)
	assert.ErrorIs(t, err, ErrNoSource)
	assert.Empty(t, f.renderer.calls)
}

func TestGenerate_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.session(t)

	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)
	_, err = f.svc.SetGranularity(ctx, id, 90)
	require.NoError(t, err)

	state, err := f.svc.Generate(ctx, id)
	require.NoError(t, err)
	assert.True(t, state.HasResult())
	assert.False(t, state.IsLoading)
	assert.Empty(t, state.Error)

	call := f.renderer.lastCall()
	assert.Equal(t, fabricPNG, call.Image)
	assert.Equal(t, "image/png", call.MimeType)
	assert.Contains(t, call.Prompt, "bird-eye perspective")
	assert.Contains(t, call.Prompt, "extremely high detail and complex textures")
	assert.Contains(t, call.Prompt, "Apply natural distribution")

	data, mime, err := f.svc.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("rendered"), data)
	assert.Equal(t, "image/png", mime)

	require.Len(t, f.history.records, 1)
	assert.Equal(t, models.RenderStatusSucceeded, f.history.records[0].Status)
	assert.Equal(t, 90, f.history.records[0].Granularity)

	assert.Contains(t, f.events.types(), EventRenderStarted)
	assert.Contains(t, f.events.types(), EventRenderCompleted)

	stats := f.svc.Stats()
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestGenerate_UsesConnectedKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.session(t)

	_, err := f.svc.ConnectKey(ctx, id, "")
	assert.ErrorIs(t, err, ErrEmptyAPIKey)

	state, err := f.svc.ConnectKey(ctx, id, "user-key")
	require.NoError(t, err)
	assert.True(t, state.HasKey)

	_, err = f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "user-key", f.renderer.lastCall().APIKey)
}

func TestGenerate_AccessDeniedDisconnectsKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.renderer.err = errors.New("Error 403, Message: Permission denied")
	id := f.session(t)

	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)

	state, err := f.svc.Generate(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, generators.ErrAccessDenied)
	assert.False(t, state.IsLoading)
	assert.False(t, state.HasKey)
	assert.Contains(t, state.Error, "Access Denied")
	assert.False(t, state.HasResult())

	require.Len(t, f.history.records, 1)
	assert.Equal(t, models.RenderStatusFailed, f.history.records[0].Status)
	assert.Contains(t, f.events.types(), EventRenderFailed)
	assert.Equal(t, int64(1), f.svc.Stats().Failed)
}

func TestGenerate_EntityNotFoundDisconnectsKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.renderer.err = errors.New("Requested entity was not found.")
	id := f.session(t)
	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)

	state, err := f.svc.Generate(ctx, id)
	require.Error(t, err)
	assert.Equal(t, "Requested entity was not found.", state.Error)
	assert.False(t, state.HasKey)
}

func TestGenerate_OtherFailureKeepsKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.renderer.err = errors.New("model overloaded")
	id := f.session(t)
	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)

	state, err := f.svc.Generate(ctx, id)
	require.Error(t, err)
	assert.Equal(t, "model overloaded", state.Error)
	assert.True(t, state.HasKey)
}

func TestGenerate_OneInFlightPerSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.renderer.release = make(chan struct{})
	f.renderer.entered = make(chan struct{}, 1)
	id := f.session(t)
	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(ctx, id)
		done <- err
	}()
	<-f.renderer.entered

	state, err := f.svc.GetState(ctx, id)
	require.NoError(t, err)
	assert.True(t, state.IsLoading)

	_, err = f.svc.Generate(ctx, id)
	assert.ErrorIs(t, err, ErrRenderInFlight)

	// Other sessions are unaffected.
	other := f.session(t)
	_, err = f.svc.Generate(ctx, other)
	assert.ErrorIs(t, err, ErrNoSource)

	close(f.renderer.release)
	require.NoError(t, <-done)

	state, _ = f.svc.GetState(ctx, id)
	assert.False(t, state.IsLoading)
	assert.True(t, state.HasResult())
}

func TestGenerate_StoreFailureIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.renderer.release = make(chan struct{})
	f.renderer.entered = make(chan struct{}, 1)
	id := f.session(t)
	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)

	type outcome struct {
		state *models.RenderingState
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		state, err := f.svc.Generate(ctx, id)
		done <- outcome{state, err}
	}()
	<-f.renderer.entered

	// The image directory turns into a plain file while the provider works.
	require.NoError(t, os.RemoveAll(f.imageDir))
	require.NoError(t, os.WriteFile(f.imageDir, []byte("not a directory"), 0644))
	close(f.renderer.release)

	res := <-done
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "failed to store rendering")
	require.NotNil(t, res.state)
	assert.False(t, res.state.IsLoading)
	assert.False(t, res.state.HasResult())
	assert.Equal(t, "Failed to store the rendering.", res.state.Error)

	stats := f.svc.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Succeeded)

	require.Len(t, f.history.records, 1)
	assert.Equal(t, models.RenderStatusFailed, f.history.records[0].Status)
	assert.Contains(t, f.events.types(), EventRenderFailed)
	assert.NotContains(t, f.events.types(), EventRenderCompleted)
}

func TestGenerate_SourceUploadedAgainStaysAlive(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithImageTTL(t, 300*time.Millisecond)
	id := f.session(t)

	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)
	time.Sleep(250 * time.Millisecond)
	_, err = f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	data, _, err := f.svc.SourceImage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, fabricPNG, data)

	state, err := f.svc.Generate(ctx, id)
	require.NoError(t, err)
	assert.True(t, state.HasResult())
	assert.Equal(t, fabricPNG, f.renderer.lastCall().Image)
}

func TestGenerate_KeepsParamChangesMadeDuringRender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.renderer.release = make(chan struct{})
	f.renderer.entered = make(chan struct{}, 1)
	id := f.session(t)
	_, err := f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(ctx, id)
		done <- err
	}()
	<-f.renderer.entered

	_, err = f.svc.SelectStyle(ctx, id, "modern-photoreal")
	require.NoError(t, err)
	close(f.renderer.release)
	require.NoError(t, <-done)

	state, _ := f.svc.GetState(ctx, id)
	assert.Equal(t, "modern-photoreal", state.SelectedStyle)
	assert.True(t, state.HasResult())
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SelectStyle(context.Background(), "missing", "planning-aerial")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	_, _, err = f.svc.Download(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestCatalog(t *testing.T) {
	c := newFixture(t).svc.Catalog()
	assert.Len(t, c.Styles, 2)
	assert.Len(t, c.PatternModes, 4)
	assert.Equal(t, models.DefaultStyleID, c.Defaults.Style)
}

func TestSourceImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.session(t)

	_, _, err := f.svc.SourceImage(ctx, id)
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = f.svc.SetSource(ctx, id, fabricPNG, "image/png")
	require.NoError(t, err)
	data, mime, err := f.svc.SourceImage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, fabricPNG, data)
	assert.Equal(t, "image/png", mime)
}
