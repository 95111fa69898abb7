package generators

import (
	"fmt"

	"go.uber.org/zap"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/interfaces"
)

// NewRenderer returns the renderer of the configured provider
func NewRenderer(cfg config.AIConfig, logger *zap.Logger) (interfaces.Renderer, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiRenderer(cfg.Gemini, logger), nil
	case config.ProviderOpenAI:
		return NewOpenAIRenderer(cfg.OpenAI, logger), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
