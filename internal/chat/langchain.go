package chat

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/hyperjump/kioku/internal/models"
)

// LangChainProvider completes conversations through any langchaingo model.
type LangChainProvider struct {
	llm llms.Model
}

// NewLangChainProvider wraps llm.
func NewLangChainProvider(llm llms.Model) *LangChainProvider {
	return &LangChainProvider{llm: llm}
}

// NewOllamaProvider chats with a local Ollama server. An empty baseURL uses the client default.
func NewOllamaProvider(baseURL, model string) (*LangChainProvider, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, ollama.WithServerURL(baseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewLangChainProvider(llm), nil
}

// NewOpenAIProvider chats with the OpenAI API or a compatible server at baseURL.
func NewOpenAIProvider(apiKey, baseURL, model string) (*LangChainProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai chat requires an API key")
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewLangChainProvider(llm), nil
}

// Complete returns the content of the first choice, or "" when the model returned none.
func (p *LangChainProvider) Complete(ctx context.Context, messages []models.Message) (string, error) {
	resp, err := p.llm.GenerateContent(ctx, messageContents(messages))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

func messageContents(messages []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
