package llm

import "context"

const (
	defaultLocalBaseURL = "http://localhost:11434/v1"
	defaultLocalModel   = "llama3.1"
)

// LocalProvider targets a self-hosted OpenAI-compatible server such as
// Ollama or llama.cpp. No API key is sent unless one is configured.
type LocalProvider struct {
	inner *OpenAIProvider
}

func NewLocalProvider(cfg Config) LocalProvider {
	inner := NewOpenAIProvider(OpenAIConfig{
		APIKey:   cfg.APIKey,
		Model:    defaultIfEmpty(cfg.Model, defaultLocalModel),
		BaseURL:  defaultIfEmpty(cfg.BaseURL, defaultLocalBaseURL),
		JSONMode: cfg.JSONMode,
	})
	inner.requireKey = false
	return LocalProvider{inner: inner}
}

func (p LocalProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	return p.inner.Generate(ctx, messages)
}
