package llm

import (
	"context"
	"fmt"
	"time"

	"dataghost/internal/config"
	"dataghost/internal/logging"
)

// NewProvider builds the provider named by the configuration. The mock
// provider is the zero-setup default.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	logging.Router("Creating LLM provider: %s", cfg.Provider)

	switch cfg.Provider {
	case "", "mock":
		return NewMockProvider(), nil
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, timeoutOf(cfg)), nil
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, timeoutOf(cfg)), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (use mock, openai, anthropic, or gemini)", cfg.Provider)
	}
}

func timeoutOf(cfg config.LLMConfig) time.Duration {
	return time.Duration(cfg.TimeoutSeconds * float64(time.Second))
}
