package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Result struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	Source      string `json:"source"`
}

// Knowledge is a fact panel returned alongside organic results.
type Knowledge struct {
	Title string   `json:"title,omitempty"`
	Facts []string `json:"facts"`
}

type Response struct {
	Organic   []Result   `json:"organic"`
	Knowledge *Knowledge `json:"knowledge,omitempty"`
}

type Provider interface {
	Search(ctx context.Context, query string, limit int) (Response, error)
}

type Config struct {
	Provider      string
	APIKey        string
	BaseURL       string
	RatePerMinute int
}

func NewProvider(cfg Config) (Provider, error) {
	var provider Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "serper", "":
		provider = NewSerper(cfg.APIKey, cfg.BaseURL)
	case "brave":
		provider = NewBrave(cfg.APIKey, cfg.BaseURL)
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
	if cfg.RatePerMinute > 0 {
		provider = NewLimited(provider, cfg.RatePerMinute)
	}
	return provider, nil
}

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported search provider: %s", e.Provider)
}

// StatusError is returned when the search API answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s search failed: %s", e.Provider, e.Status)
}

func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// SourceOf returns the host of a link without a leading "www.".
func SourceOf(link string) string {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

const defaultTimeout = 15 * time.Second

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 20 {
		return 20
	}
	return limit
}
