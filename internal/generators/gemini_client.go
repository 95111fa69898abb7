package generators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/imagedata"
	"Urban-Render/server/internal/interfaces"
)

const (
	ProviderGemini = "gemini"

	// Gemini returns the image bytes without a reliable type; renders are served as PNG.
	resultMimeType = "image/png"
)

// GeminiRenderer renders fabric maps with the Gemini image model
type GeminiRenderer struct {
	apiKey      string
	baseURL     string
	model       string
	aspectRatio string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGeminiRenderer creates a Gemini renderer from config
func NewGeminiRenderer(cfg config.GeminiConfig, logger *zap.Logger) *GeminiRenderer {
	return &GeminiRenderer{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		aspectRatio: cfg.AspectRatio,
		timeout:     cfg.Timeout,
		logger:      logger.Named("gemini"),
	}
}

func (g *GeminiRenderer) Provider() string { return ProviderGemini }

func (g *GeminiRenderer) Model() string { return g.model }

// Render sends the image followed by the prompt and returns the first inline image
// of the first candidate.
func (g *GeminiRenderer) Render(ctx context.Context, req *interfaces.RenderRequest) (*interfaces.RenderResult, error) {
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = g.apiKey
	}
	if apiKey == "" {
		return nil, ClassifyError(errors.New("API_KEY is not configured"))
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	// A fresh client per call picks up whichever key the session connected last.
	client, err := g.newClient(ctx, apiKey)
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("failed to create gemini client: %w", err))
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = imagedata.DefaultMimeType
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(req.Image, mimeType),
		genai.NewPartFromText(req.Prompt),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{}
	if g.aspectRatio != "" {
		genCfg.ImageConfig = &genai.ImageConfig{AspectRatio: g.aspectRatio}
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, g.model, contents, genCfg)
	duration := time.Since(start)
	if err != nil {
		g.logger.Error("rendering error", zap.String("model", g.model), zap.Duration("duration", duration), zap.Error(err))
		return nil, ClassifyError(err)
	}

	data, err := extractInlineImage(resp)
	if err != nil {
		g.logger.Warn("response carried no image", zap.String("model", g.model), zap.Duration("duration", duration))
		return nil, err
	}

	g.logger.Info("render completed",
		zap.String("model", g.model),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", duration),
	)

	return &interfaces.RenderResult{
		ImageData: data,
		MimeType:  resultMimeType,
		Provider:  ProviderGemini,
		Model:     g.model,
		Duration:  duration.Milliseconds(),
	}, nil
}

func (g *GeminiRenderer) newClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if g.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	return genai.NewClient(ctx, cc)
}

// extractInlineImage scans the first candidate's parts in order and returns the
// first inline image payload.
func extractInlineImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	noImage := &RenderError{Kind: ErrNoImage, Message: noImageMessage}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, noImage
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil, noImage
	}
	for _, part := range cand.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, noImage
}
