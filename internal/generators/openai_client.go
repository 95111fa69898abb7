package generators

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/interfaces"
)

const ProviderOpenAI = "openai"

// OpenAIRenderer renders fabric maps through the OpenAI image edit endpoint
type OpenAIRenderer struct {
	apiKey  string
	baseURL string
	model   string
	size    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIRenderer creates an OpenAI renderer from config
func NewOpenAIRenderer(cfg config.OpenAIConfig, logger *zap.Logger) *OpenAIRenderer {
	return &OpenAIRenderer{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		size:    cfg.Size,
		timeout: cfg.Timeout,
		logger:  logger.Named("openai"),
	}
}

func (o *OpenAIRenderer) Provider() string { return ProviderOpenAI }

func (o *OpenAIRenderer) Model() string { return o.model }

// Render edits the source image with the prompt and returns the first image
func (o *OpenAIRenderer) Render(ctx context.Context, req *interfaces.RenderRequest) (*interfaces.RenderResult, error) {
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = o.apiKey
	}
	if apiKey == "" {
		return nil, ClassifyError(errors.New("API_KEY is not configured"))
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	// The multipart encoder needs a named file.
	src, err := writeTempImage(req.Image, req.MimeType)
	if err != nil {
		return nil, err
	}
	defer func() {
		src.Close()
		_ = os.Remove(src.Name())
	}()

	editReq := openai.ImageEditRequest{
		Image:  src,
		Prompt: req.Prompt,
		Model:  o.model,
		N:      1,
		Size:   o.size,
	}
	// gpt-image models always answer with base64 and reject response_format.
	if strings.HasPrefix(o.model, "dall-e") {
		editReq.ResponseFormat = openai.CreateImageResponseFormatB64JSON
	}

	start := time.Now()
	resp, err := client.CreateEditImage(ctx, editReq)
	duration := time.Since(start)
	if err != nil {
		o.logger.Error("rendering error", zap.String("model", o.model), zap.Duration("duration", duration), zap.Error(err))
		return nil, ClassifyError(err)
	}

	var data []byte
	for _, d := range resp.Data {
		if d.B64JSON == "" {
			continue
		}
		data, err = base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, ClassifyError(fmt.Errorf("failed to decode image: %w", err))
		}
		break
	}
	if len(data) == 0 {
		return nil, &RenderError{Kind: ErrNoImage, Message: noImageMessage}
	}

	o.logger.Info("render completed",
		zap.String("model", o.model),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", duration),
	)

	return &interfaces.RenderResult{
		ImageData: data,
		MimeType:  resultMimeType,
		Provider:  ProviderOpenAI,
		Model:     o.model,
		Duration:  duration.Milliseconds(),
	}, nil
}

func writeTempImage(data []byte, mimeType string) (*os.File, error) {
	ext := ".png"
	switch mimeType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}

	f, err := os.CreateTemp("", "fabric-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp image: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write temp image: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to rewind temp image: %w", err)
	}
	return f, nil
}
