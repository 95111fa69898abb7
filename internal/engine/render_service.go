package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"Urban-Render/server/internal/catalog"
	"Urban-Render/server/internal/generators"
	"Urban-Render/server/internal/imagedata"
	"Urban-Render/server/internal/interfaces"
	"Urban-Render/server/internal/models"
	"Urban-Render/server/internal/prompts"
)

// DownloadFilename is the name the rendered image is saved under
const DownloadFilename = "urban-render.png"

// Options configures a RenderService
type Options struct {
	Renderer interfaces.Renderer
	Sessions interfaces.SessionStore
	Images   *generators.ImageStore
	History  interfaces.HistoryStore // optional
	Events   EventPublisher          // optional
	Logger   *zap.Logger

	MaxUploadBytes int64
	// HasServerKey marks new sessions as connected when the server has its own key.
	HasServerKey bool
}

// ParamsUpdate changes any subset of the render parameters
type ParamsUpdate struct {
	Style       *string
	Granularity *int
	PatternMode *string
}

// Catalog lists what a session can choose from
type Catalog struct {
	Styles       []models.RenderStyle `json:"styles"`
	PatternModes []models.PatternMode `json:"pattern_modes"`
	Defaults     CatalogDefaults      `json:"defaults"`
}

type CatalogDefaults struct {
	Style       string `json:"style"`
	Granularity int    `json:"granularity"`
	PatternMode string `json:"pattern_mode"`
}

// Stats counts renders since start
type Stats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	InFlight  int64 `json:"in_flight"`
}

// RenderService owns the rendering state of every session. Each operation
// replaces one group of fields and publishes the new state.
type RenderService struct {
	renderer interfaces.Renderer
	sessions interfaces.SessionStore
	images   *generators.ImageStore
	history  interfaces.HistoryStore
	events   EventPublisher
	prompts  *prompts.TemplateEngine
	logger   *zap.Logger

	maxUploadBytes int64
	hasServerKey   bool

	locks    sync.Map // session id -> *sync.Mutex
	inflight sync.Map // session id -> struct{}

	total     *atomic.Int64
	succeeded *atomic.Int64
	failed    *atomic.Int64
	running   *atomic.Int64
}

// NewRenderService creates a render service
func NewRenderService(opts Options) *RenderService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderService{
		renderer:       opts.Renderer,
		sessions:       opts.Sessions,
		images:         opts.Images,
		history:        opts.History,
		events:         opts.Events,
		prompts:        prompts.NewTemplateEngine(),
		logger:         logger.Named("render"),
		maxUploadBytes: opts.MaxUploadBytes,
		hasServerKey:   opts.HasServerKey,
		total:          atomic.NewInt64(0),
		succeeded:      atomic.NewInt64(0),
		failed:         atomic.NewInt64(0),
		running:        atomic.NewInt64(0),
	}
}

// Catalog returns the styles and pattern modes on offer
func (s *RenderService) Catalog() Catalog {
	return Catalog{
		Styles:       catalog.Styles(),
		PatternModes: catalog.PatternModes(),
		Defaults: CatalogDefaults{
			Style:       models.DefaultStyleID,
			Granularity: models.DefaultGranularity,
			PatternMode: models.DefaultPatternMode,
		},
	}
}

// Stats returns a snapshot of the render counters
func (s *RenderService) Stats() Stats {
	return Stats{
		Total:     s.total.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		InFlight:  s.running.Load(),
	}
}

// CreateSession starts a session with default parameters
func (s *RenderService) CreateSession(ctx context.Context) (*models.RenderingState, error) {
	state := models.NewRenderingState(uuid.NewString())
	state.HasKey = s.hasServerKey

	if err := s.sessions.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.Debug("session created", zap.String("session_id", state.SessionID))
	return state, nil
}

// GetState returns the current state of a session
func (s *RenderService) GetState(ctx context.Context, sessionID string) (*models.RenderingState, error) {
	return s.sessions.Load(ctx, sessionID)
}

// DeleteSession drops a session and its credentials
func (s *RenderService) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.locks.Delete(sessionID)
	return nil
}

// SetSource stores a new fabric map and clears the previous result and error
func (s *RenderService) SetSource(ctx context.Context, sessionID string, data []byte, mimeType string) (*models.RenderingState, error) {
	if mimeType == "" {
		mimeType = imagedata.Sniff(data)
	}
	if err := imagedata.Validate(data, mimeType, s.maxUploadBytes); err != nil {
		return nil, err
	}

	return s.mutate(ctx, sessionID, func(state *models.RenderingState) error {
		key, err := s.images.Put(ctx, data, mimeType, map[string]string{
			"kind":       "source",
			"session_id": sessionID,
		})
		if err != nil {
			return fmt.Errorf("failed to store source image: %w", err)
		}
		state.SourceImage = key
		state.SourceMime = mimeType
		state.ResultImage = ""
		state.Error = ""
		return nil
	})
}

// ClearSource removes the fabric map together with its rendering
func (s *RenderService) ClearSource(ctx context.Context, sessionID string) (*models.RenderingState, error) {
	return s.mutate(ctx, sessionID, func(state *models.RenderingState) error {
		state.SourceImage = ""
		state.SourceMime = ""
		state.ResultImage = ""
		return nil
	})
}

// SelectStyle switches the rendering style
func (s *RenderService) SelectStyle(ctx context.Context, sessionID, styleID string) (*models.RenderingState, error) {
	return s.UpdateParams(ctx, sessionID, ParamsUpdate{Style: &styleID})
}

// SetGranularity sets the requested detail level
func (s *RenderService) SetGranularity(ctx context.Context, sessionID string, granularity int) (*models.RenderingState, error) {
	return s.UpdateParams(ctx, sessionID, ParamsUpdate{Granularity: &granularity})
}

// SetPatternMode sets the texture distribution mode
func (s *RenderService) SetPatternMode(ctx context.Context, sessionID, patternMode string) (*models.RenderingState, error) {
	return s.UpdateParams(ctx, sessionID, ParamsUpdate{PatternMode: &patternMode})
}

// UpdateParams validates every given field first and then applies them together
func (s *RenderService) UpdateParams(ctx context.Context, sessionID string, upd ParamsUpdate) (*models.RenderingState, error) {
	if upd.Style != nil {
		if _, ok := catalog.FindStyle(*upd.Style); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStyle, *upd.Style)
		}
	}
	if upd.Granularity != nil && (*upd.Granularity < 0 || *upd.Granularity > 100) {
		return nil, fmt.Errorf("%w: %d", ErrGranularityRange, *upd.Granularity)
	}
	if upd.PatternMode != nil {
		if _, ok := catalog.FindPatternMode(*upd.PatternMode); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPattern, *upd.PatternMode)
		}
	}

	return s.mutate(ctx, sessionID, func(state *models.RenderingState) error {
		if upd.Style != nil {
			state.SelectedStyle = *upd.Style
		}
		if upd.Granularity != nil {
			state.Granularity = *upd.Granularity
		}
		if upd.PatternMode != nil {
			state.PatternMode = *upd.PatternMode
		}
		return nil
	})
}

// ConnectKey attaches the user's own API key to the session
func (s *RenderService) ConnectKey(ctx context.Context, sessionID, apiKey string) (*models.RenderingState, error) {
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}
	return s.mutate(ctx, sessionID, func(state *models.RenderingState) error {
		if err := s.sessions.SetAPIKey(ctx, sessionID, apiKey); err != nil {
			return fmt.Errorf("failed to store api key: %w", err)
		}
		state.HasKey = true
		return nil
	})
}

// Generate renders the session's fabric map with its current parameters.
// Only one render per session runs at a time.
func (s *RenderService) Generate(ctx context.Context, sessionID string) (*models.RenderingState, error) {
	if _, busy := s.inflight.LoadOrStore(sessionID, struct{}{}); busy {
		return nil, ErrRenderInFlight
	}
	defer s.inflight.Delete(sessionID)

	var source []byte
	var sourceMime string
	started, err := s.mutate(ctx, sessionID, func(state *models.RenderingState) error {
		if !state.HasSource() {
			return ErrNoSource
		}
		data, entry, err := s.images.Get(ctx, state.SourceImage)
		if err != nil {
			if errors.Is(err, generators.ErrImageNotFound) {
				return ErrNoSource
			}
			return err
		}
		source = data
		sourceMime = entry.MimeType
		state.IsLoading = true
		state.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(EventRenderStarted, started)

	apiKey, err := s.sessions.APIKey(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to load session api key", zap.String("session_id", sessionID), zap.Error(err))
	}

	prompt, err := s.prompts.RenderUrbanPrompt(prompts.UrbanPromptContext{
		StylePrompt: catalog.StylePrompt(started.SelectedStyle),
		Granularity: started.Granularity,
		PatternMode: started.PatternMode,
	})
	if err != nil {
		return nil, err
	}

	s.total.Inc()
	s.running.Inc()
	startTime := time.Now()
	res, renderErr := s.renderer.Render(ctx, &interfaces.RenderRequest{
		Image:    source,
		MimeType: sourceMime,
		Prompt:   prompt,
		APIKey:   apiKey,
	})
	duration := time.Since(startTime)
	s.running.Dec()

	// The caller may be gone; the outcome is still persisted.
	persistCtx := context.WithoutCancel(ctx)

	if renderErr != nil {
		s.failed.Inc()
		renderErr = generators.ClassifyError(renderErr)
		msg := renderErr.Error()

		final, err := s.mutate(persistCtx, sessionID, func(state *models.RenderingState) error {
			state.IsLoading = false
			state.Error = msg
			if errors.Is(renderErr, generators.ErrAccessDenied) || generators.IsCredentialError(msg) {
				state.HasKey = false
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.logger.Warn("render failed",
			zap.String("session_id", sessionID),
			zap.Duration("duration", duration),
			zap.Error(renderErr),
		)
		s.publish(EventRenderFailed, final)
		s.record(persistCtx, started, models.RenderStatusFailed, msg, duration)
		return final, renderErr
	}

	key, storeErr := s.images.Put(persistCtx, res.ImageData, res.MimeType, map[string]string{
		"kind":       "result",
		"session_id": sessionID,
		"style":      started.SelectedStyle,
	})
	if storeErr != nil {
		s.failed.Inc()
		const msg = "Failed to store the rendering."
		final, err := s.mutate(persistCtx, sessionID, func(state *models.RenderingState) error {
			state.IsLoading = false
			state.Error = msg
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.logger.Error("failed to store rendering",
			zap.String("session_id", sessionID),
			zap.Duration("duration", duration),
			zap.Error(storeErr),
		)
		s.publish(EventRenderFailed, final)
		s.record(persistCtx, started, models.RenderStatusFailed, msg, duration)
		return final, fmt.Errorf("failed to store rendering: %w", storeErr)
	}

	s.succeeded.Inc()
	final, err := s.mutate(persistCtx, sessionID, func(state *models.RenderingState) error {
		state.ResultImage = key
		state.IsLoading = false
		state.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("render completed",
		zap.String("session_id", sessionID),
		zap.String("style", started.SelectedStyle),
		zap.Int("granularity", started.Granularity),
		zap.Duration("duration", duration),
	)
	s.publish(EventRenderCompleted, final)
	s.record(persistCtx, started, models.RenderStatusSucceeded, "", duration)
	return final, nil
}

// Download returns the current rendering of a session
func (s *RenderService) Download(ctx context.Context, sessionID string) ([]byte, string, error) {
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if !state.HasResult() {
		return nil, "", ErrNoResult
	}
	data, entry, err := s.images.Get(ctx, state.ResultImage)
	if err != nil {
		if errors.Is(err, generators.ErrImageNotFound) {
			return nil, "", ErrNoResult
		}
		return nil, "", err
	}
	return data, entry.MimeType, nil
}

// SourceImage returns the uploaded fabric map of a session
func (s *RenderService) SourceImage(ctx context.Context, sessionID string) ([]byte, string, error) {
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if !state.HasSource() {
		return nil, "", ErrNoSource
	}
	data, entry, err := s.images.Get(ctx, state.SourceImage)
	if err != nil {
		if errors.Is(err, generators.ErrImageNotFound) {
			return nil, "", ErrNoSource
		}
		return nil, "", err
	}
	return data, entry.MimeType, nil
}

// History returns recent renders, or nil when history is not configured
func (s *RenderService) History(ctx context.Context, limit int) ([]models.RenderRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(ctx, limit)
}

// HistoryEnabled reports whether renders are being recorded
func (s *RenderService) HistoryEnabled() bool {
	return s.history != nil
}

// mutate loads a session, applies fn, saves and publishes the result while
// holding the session lock.
func (s *RenderService) mutate(ctx context.Context, sessionID string, fn func(*models.RenderingState) error) (*models.RenderingState, error) {
	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	state.UpdatedAt = time.Now()
	if err := s.sessions.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.publish(EventStateUpdated, state)
	return state, nil
}

func (s *RenderService) lockFor(sessionID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *RenderService) publish(typ string, state *models.RenderingState) {
	if s.events == nil || state == nil {
		return
	}
	snapshot := *state
	s.events.Publish(state.SessionID, newEvent(typ, &snapshot))
}

func (s *RenderService) record(ctx context.Context, state *models.RenderingState, status, errMsg string, duration time.Duration) {
	if s.history == nil {
		return
	}
	rec := &models.RenderRecord{
		ID:          uuid.NewString(),
		SessionID:   state.SessionID,
		StyleID:     state.SelectedStyle,
		Granularity: state.Granularity,
		PatternMode: state.PatternMode,
		Provider:    s.renderer.Provider(),
		Model:       s.renderer.Model(),
		Status:      status,
		Error:       errMsg,
		DurationMS:  duration.Milliseconds(),
		CreatedAt:   time.Now(),
	}
	if err := s.history.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record render history", zap.String("session_id", state.SessionID), zap.Error(err))
	}
}
