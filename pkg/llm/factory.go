package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/config"
)

// NewClient creates a client for the configured provider.
func NewClient(cfg *config.AIConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.Endpoint, cfg.Model, cfg.APIKey, logger)
	case "anthropic":
		return NewAnthropicClient(cfg.Endpoint, cfg.Model, cfg.APIKey, logger)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}
