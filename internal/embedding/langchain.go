package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainEmbedder embeds text through a langchaingo embedder (Ollama or OpenAI).
type LangChainEmbedder struct {
	embedder   embeddings.Embedder
	dimensions int
}

// NewLangChainEmbedder wraps any langchaingo embedding client.
func NewLangChainEmbedder(client embeddings.EmbedderClient, dimensions int) (*LangChainEmbedder, error) {
	emb, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &LangChainEmbedder{embedder: emb, dimensions: dimensions}, nil
}

// NewOllamaEmbedder embeds with a local Ollama server. An empty baseURL uses the client default.
func NewOllamaEmbedder(baseURL, model string, dimensions int) (*LangChainEmbedder, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, ollama.WithServerURL(baseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewLangChainEmbedder(llm, dimensions)
}

// NewOpenAIEmbedder embeds with the OpenAI API or a compatible server at baseURL.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) (*LangChainEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedding requires an API key")
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithEmbeddingModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewLangChainEmbedder(llm, dimensions)
}

// Embed returns the embedding of text.
func (e *LangChainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("provider returned no embedding")
	}
	return v, nil
}

// Dimensions returns the configured dimension.
func (e *LangChainEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *LangChainEmbedder) Close() error {
	return nil
}
