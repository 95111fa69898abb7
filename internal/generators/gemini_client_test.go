package generators

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/interfaces"
)

func TestExtractInlineImage_FirstInlinePartWins(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is your rendering"},
				{InlineData: &genai.Blob{Data: []byte("first"), MIMEType: "image/png"}},
				{InlineData: &genai.Blob{Data: []byte("second"), MIMEType: "image/png"}},
			}},
		}},
	}

	data, err := extractInlineImage(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestExtractInlineImage_NoImage(t *testing.T) {
	cases := map[string]*genai.GenerateContentResponse{
		"nil":           nil,
		"no candidates": {},
		"no content":    {Candidates: []*genai.Candidate{{}}},
		"text only": {Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "sorry"}}},
		}}},
	}

	for name, resp := range cases {
		_, err := extractInlineImage(resp)
		assert.ErrorIs(t, err, ErrNoImage, name)
		assert.EqualError(t, err, noImageMessage, name)
	}
}

func newGeminiForServer(srv *httptest.Server, key string) *GeminiRenderer {
	return NewGeminiRenderer(config.GeminiConfig{
		APIKey:      key,
		BaseURL:     srv.URL,
		Model:       "gemini-2.5-flash-image",
		AspectRatio: "1:1",
		Timeout:     10 * time.Second,
	}, zap.NewNop())
}

func TestGeminiRenderer_Render(t *testing.T) {
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[`+
			`{"text":"done"},`+
			`{"inlineData":{"mimeType":"image/png","data":"`+base64.StdEncoding.EncodeToString([]byte("rendered"))+`"}}`+
			`]}}]}`)
	}))
	defer srv.Close()

	g := newGeminiForServer(srv, "test-key")
	res, err := g.Render(context.Background(), &interfaces.RenderRequest{
		Image:  []byte("fabric"),
		Prompt: "URBAN ARCHITECTURAL RENDERING TASK.",
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("rendered"), res.ImageData)
	assert.Equal(t, "image/png", res.MimeType)
	assert.Equal(t, ProviderGemini, res.Provider)
	assert.True(t, strings.HasSuffix(path, "gemini-2.5-flash-image:generateContent"), path)

	// Image part precedes the prompt.
	raw, _ := json.Marshal(body)
	assert.Less(t, strings.Index(string(raw), "inlineData"), strings.Index(string(raw), "URBAN ARCHITECTURAL"))
}

func TestGeminiRenderer_ForbiddenBecomesAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`)
	}))
	defer srv.Close()

	_, err := newGeminiForServer(srv, "test-key").Render(context.Background(), &interfaces.RenderRequest{
		Image:  []byte("fabric"),
		Prompt: "p",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, accessDeniedMessage, err.Error())
}

func TestGeminiRenderer_MissingKey(t *testing.T) {
	g := NewGeminiRenderer(config.GeminiConfig{Model: "m"}, zap.NewNop())

	_, err := g.Render(context.Background(), &interfaces.RenderRequest{Image: []byte("x")})
	assert.ErrorIs(t, err, ErrAccessDenied)
}
