package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
)

// New creates the embedder selected by cfg, wrapped in a cache when cfg.CacheSize > 0.
// When the ONNX model cannot be loaded the mock embedder is used instead, so the server still
// starts on machines without onnxruntime.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "onnx":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock embedder", zap.Error(err))
			e, err = NewMockEmbedder(cfg.Dimensions), nil
		}
	case "gemini":
		e, err = NewGeminiEmbedder(ctx, config.APIKey(cfg.APIKeyEnv), cfg.Model, cfg.Dimensions)
	case "ollama":
		e, err = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "openai":
		e, err = NewOpenAIEmbedder(config.APIKey(cfg.APIKeyEnv), cfg.BaseURL, cfg.Model, cfg.Dimensions)
	default:
		e = NewMockEmbedder(cfg.Dimensions)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", e.Dimensions()))
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize), nil
	}
	return e, nil
}
