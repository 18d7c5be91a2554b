package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Keyring-Network/keyring-atlas/internal/search"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	respond func(query string) (search.Response, error)
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) (search.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.respond == nil {
		return richResponse(), nil
	}
	return f.respond(query)
}

func (f *fakeSearcher) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeExtractor struct {
	mu       sync.Mutex
	requests []ExtractionRequest
	respond  func(req ExtractionRequest) (CostCategoryResult, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req ExtractionRequest) (CostCategoryResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeExtractor) Requests() []ExtractionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExtractionRequest(nil), f.requests...)
}

func fixedConfidence(confidence int) func(ExtractionRequest) (CostCategoryResult, error) {
	return func(req ExtractionRequest) (CostCategoryResult, error) {
		return costFor(req.Category.Name, confidence), nil
	}
}

func costFor(category string, confidence int) CostCategoryResult {
	result := CostCategoryResult{
		Category:   category,
		Currency:   "EUR",
		Confidence: confidence,
	}
	switch category {
	case CategoryRent:
		result.Amount, result.USDAmount = 1000, 1100
	case CategoryGroceries:
		result.Amount, result.USDAmount = 300, 330
	case CategoryUtilities:
		result.Amount, result.USDAmount = 100, 110
	case CategoryTransportation:
		result.Amount, result.USDAmount = 40, 44
	case CategoryInternet:
		result.Amount, result.USDAmount = 30, 33
		result.Internet = &InternetDetails{SpeedMbps: 100, ReliabilityScore: 8, FiberAvailability: true}
	}
	return result
}

func richResponse() search.Response {
	return search.Response{
		Organic: []search.Result{
			{Title: "Numbeo", Description: "Rent <b>1,000 EUR</b>", Link: "https://www.numbeo.com/x", Source: "numbeo.com"},
			{Title: "Expatistan", Description: "Prices", Link: "https://www.expatistan.com/x", Source: "expatistan.com"},
			{Title: "Blog", Description: "My budget", Link: "https://blog.example.com/x", Source: "blog.example.com"},
		},
		Knowledge: &search.Knowledge{Facts: []string{"Currency: Euro"}},
	}
}

type memoryCache struct {
	mu      sync.Mutex
	bundles map[string]PerceptionBundle
	saves   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{bundles: map[string]PerceptionBundle{}}
}

func (c *memoryCache) Has(ctx context.Context, key string, maxAgeDays int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.bundles[key]
	return ok, nil
}

func (c *memoryCache) Load(ctx context.Context, key string) (PerceptionBundle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bundle, ok := c.bundles[key]
	return bundle, ok, nil
}

func (c *memoryCache) Save(ctx context.Context, key string, bundle PerceptionBundle, maxAgeDays int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundles[key] = bundle
	c.saves++
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(ctx context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.events))
	for _, event := range s.events {
		types = append(types, event.Type)
	}
	return types
}

var errSearchDown = errors.New("search backend unavailable")

func queriesContaining(queries []string, fragment string) int {
	count := 0
	for _, query := range queries {
		if strings.Contains(query, fragment) {
			count++
		}
	}
	return count
}

func newTestAgent(searcher Searcher, extractor Extractor, opts ...Option) *Agent {
	base := []Option{WithPacing(0)}
	return New(searcher, extractor, append(base, opts...)...)
}

func categoryNames(categories []Category) []string {
	names := make([]string, 0, len(categories))
	for _, category := range categories {
		names = append(names, category.Name)
	}
	return names
}

func mustStrategy(name StrategyName) Strategy {
	strategy, err := LookupStrategy(name)
	if err != nil {
		panic(fmt.Sprintf("missing strategy %s", name))
	}
	return strategy
}
