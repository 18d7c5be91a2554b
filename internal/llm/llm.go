package llm

import (
	"context"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Config struct {
	Mode             string
	Provider         string
	Model            string
	BaseURL          string
	APIKey           string
	OpenRouterAPIKey string
	FallbackProvider string
	FallbackModel    string
	FallbackBaseURL  string
	FallbackAPIKey   string
	JSONMode         bool
}

func NewProvider(cfg Config) (Provider, error) {
	if cfg.Mode == "local" {
		return NewLocalProvider(cfg), nil
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			JSONMode: cfg.JSONMode,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:   defaultIfEmpty(cfg.OpenRouterAPIKey, cfg.APIKey),
			Model:    cfg.Model,
			BaseURL:  defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
			JSONMode: cfg.JSONMode,
		}), nil
	case "moonshot-ai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  defaultIfEmpty(cfg.BaseURL, "https://api.moonshot.ai/v1"),
			JSONMode: cfg.JSONMode,
		}), nil
	case "groq":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  defaultIfEmpty(cfg.BaseURL, "https://api.groq.com/openai/v1"),
			JSONMode: cfg.JSONMode,
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

// NewProviderChain builds the primary provider and, when a fallback provider
// is configured, wraps both in a FallbackProvider. The primary alone is still
// wrapped so transient failures are retried.
func NewProviderChain(cfg Config) (Provider, error) {
	primary, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	candidates := []Candidate{{Name: providerLabel(cfg), Provider: primary}}

	if strings.TrimSpace(cfg.FallbackProvider) != "" {
		fallbackCfg := Config{
			Mode:             "remote",
			Provider:         cfg.FallbackProvider,
			Model:            defaultIfEmpty(cfg.FallbackModel, cfg.Model),
			BaseURL:          cfg.FallbackBaseURL,
			APIKey:           defaultIfEmpty(cfg.FallbackAPIKey, cfg.APIKey),
			OpenRouterAPIKey: cfg.OpenRouterAPIKey,
			JSONMode:         cfg.JSONMode,
		}
		if cfg.FallbackProvider == "local" {
			fallbackCfg.Mode = "local"
		}
		fallback, err := NewProvider(fallbackCfg)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Name: providerLabel(fallbackCfg), Provider: fallback})
	}
	return NewFallbackProvider(candidates...), nil
}

func providerLabel(cfg Config) string {
	if cfg.Mode == "local" {
		return "local"
	}
	return cfg.Provider
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
