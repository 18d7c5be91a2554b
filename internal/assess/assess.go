// Package assess assembles the agent's collaborators from configuration. The
// worker and the CLI both build their agents through it.
package assess

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/cache"
	"github.com/Keyring-Network/keyring-atlas/internal/config"
	"github.com/Keyring-Network/keyring-atlas/internal/extract"
	"github.com/Keyring-Network/keyring-atlas/internal/llm"
	"github.com/Keyring-Network/keyring-atlas/internal/search"
	"github.com/Keyring-Network/keyring-atlas/internal/secrets"
)

var (
	newSearchProvider = search.NewProvider
	newLLMChain       = llm.NewProviderChain
	openSQLiteCache   = cache.NewSQLite
)

// Cache is the perception cache plus the maintenance calls the CLI needs.
type Cache interface {
	agent.Cache
	Clear(ctx context.Context) (int64, error)
}

// Runtime holds the collaborators shared by every agent built from one
// configuration.
type Runtime struct {
	Searcher  agent.Searcher
	Extractor agent.Extractor
	Cache     Cache

	cfg     config.Config
	closers []func() error
}

// Build reveals sealed API keys and constructs the search provider, the LLM
// extractor and the perception cache. A cache that cannot be opened falls
// back to an in-memory cache.
func Build(ctx context.Context, cfg config.Config) (*Runtime, error) {
	if err := secrets.RevealAll(cfg.LLMSecretsKey, map[string]*string{
		"LLM_API_KEY":          &cfg.LLMAPIKey,
		"OPENROUTER_API_KEY":   &cfg.OpenRouterAPIKey,
		"LLM_FALLBACK_API_KEY": &cfg.LLMFallbackAPIKey,
		"SEARCH_API_KEY":       &cfg.SearchAPIKey,
	}); err != nil {
		return nil, fmt.Errorf("revealing secrets: %w", err)
	}
	if strings.TrimSpace(cfg.SearchAPIKey) == "" {
		return nil, errors.New("SEARCH_API_KEY is required")
	}

	searcher, err := newSearchProvider(SearchConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("building search provider: %w", err)
	}
	provider, err := newLLMChain(LLMConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("building llm provider: %w", err)
	}

	rt := &Runtime{
		Searcher:  searcher,
		Extractor: extract.NewLLMExtractor(provider),
		cfg:       cfg,
	}
	rt.Cache = rt.openCache(ctx)
	return rt, nil
}

func (r *Runtime) openCache(ctx context.Context) Cache {
	path := strings.TrimSpace(r.cfg.CachePath)
	if path == "" {
		return cache.NewMemory()
	}
	sqlite, err := openSQLiteCache(ctx, path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("perception cache unavailable, using in-memory cache")
		return cache.NewMemory()
	}
	r.closers = append(r.closers, sqlite.Close)
	if pruned, err := sqlite.Prune(ctx); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("perception cache prune failed")
	} else if pruned > 0 {
		log.Debug().Int64("pruned", pruned).Str("path", path).Msg("expired perception bundles removed")
	}
	return sqlite
}

// NewAgent returns an agent configured from the runtime's settings. Extra
// options are applied last.
func (r *Runtime) NewAgent(opts ...agent.Option) *agent.Agent {
	base := []agent.Option{
		agent.WithCache(r.Cache),
		agent.WithGoals(r.cfg.Goals),
		agent.WithPacing(r.cfg.Pacing),
		agent.WithResultLimit(r.cfg.SearchResultLimit),
		agent.WithCacheMaxAgeDays(r.cfg.CacheMaxAgeDays),
		agent.WithRemoteWorkWeights(r.cfg.Weights),
		agent.WithBudget(r.cfg.MonthlyBudget),
		agent.WithCategories(r.cfg.Categories),
	}
	return agent.New(r.Searcher, r.Extractor, append(base, opts...)...)
}

// NewOrchestrator wraps runner with the configured stagger, timeout and
// concurrency bound.
func (r *Runtime) NewOrchestrator(runner agent.Runner) *agent.Orchestrator {
	return agent.NewOrchestrator(runner,
		agent.WithStagger(r.cfg.CityStagger),
		agent.WithCityTimeout(r.cfg.CityTimeout),
		agent.WithConcurrency(r.cfg.MaxConcurrentCities),
	)
}

func (r *Runtime) Close() error {
	var errs []error
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func SearchConfig(cfg config.Config) search.Config {
	return search.Config{
		Provider:      cfg.SearchProvider,
		APIKey:        cfg.SearchAPIKey,
		BaseURL:       cfg.SearchBaseURL,
		RatePerMinute: cfg.SearchRatePerMinute,
	}
}

// LLMConfig maps process configuration onto the provider chain. Extraction
// always asks for JSON output.
func LLMConfig(cfg config.Config) llm.Config {
	return llm.Config{
		Mode:             cfg.LLMMode,
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		APIKey:           cfg.LLMAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		FallbackProvider: cfg.LLMFallbackProvider,
		FallbackModel:    cfg.LLMFallbackModel,
		FallbackBaseURL:  cfg.LLMFallbackBaseURL,
		FallbackAPIKey:   cfg.LLMFallbackAPIKey,
		JSONMode:         true,
	}
}
