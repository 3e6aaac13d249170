// Package chat sends a conversation to a language model and returns the generated reply.
package chat

import (
	"context"
	"fmt"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
)

// Provider completes a conversation. An empty reply with a nil error means the model produced
// nothing usable; callers decide how to report that.
type Provider interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

// New creates the provider selected by cfg.
func New(ctx context.Context, cfg config.ChatConfig) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiProvider(ctx, config.APIKey(cfg.APIKeyEnv), cfg.Model)
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	case "openai":
		return NewOpenAIProvider(config.APIKey(cfg.APIKeyEnv), cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown chat provider: %s", cfg.Provider)
	}
}
