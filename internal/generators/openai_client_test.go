package generators

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/interfaces"
)

func newOpenAIForServer(srv *httptest.Server) *OpenAIRenderer {
	return NewOpenAIRenderer(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-image-1",
		Size:    "1024x1024",
		Timeout: 10 * time.Second,
	}, zap.NewNop())
}

func TestOpenAIRenderer_Render(t *testing.T) {
	var gotPrompt string
	var gotImage []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotPrompt = r.FormValue("prompt")
		if f, _, err := r.FormFile("image"); err == nil {
			gotImage, _ = io.ReadAll(f)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"created":1,"data":[{"b64_json":"`+base64.StdEncoding.EncodeToString([]byte("edited"))+`"}]}`)
	}))
	defer srv.Close()

	res, err := newOpenAIForServer(srv).Render(context.Background(), &interfaces.RenderRequest{
		Image:    []byte("fabric"),
		MimeType: "image/png",
		Prompt:   "render it",
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("edited"), res.ImageData)
	assert.Equal(t, ProviderOpenAI, res.Provider)
	assert.Equal(t, "render it", gotPrompt)
	assert.Equal(t, []byte("fabric"), gotImage)
}

func TestOpenAIRenderer_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"created":1,"data":[]}`)
	}))
	defer srv.Close()

	_, err := newOpenAIForServer(srv).Render(context.Background(), &interfaces.RenderRequest{Image: []byte("fabric")})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestNewRenderer(t *testing.T) {
	cfg := config.Default().AI

	r, err := NewRenderer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, r.Provider())
	assert.Equal(t, "gemini-2.5-flash-image", r.Model())

	cfg.Provider = config.ProviderOpenAI
	r, err = NewRenderer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, r.Provider())

	cfg.Provider = "other"
	_, err = NewRenderer(cfg, zap.NewNop())
	assert.Error(t, err)
}
