package agent

import (
	"context"

	"github.com/Keyring-Network/keyring-atlas/internal/search"
)

// Searcher is the retrieval collaborator. search.Provider satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (search.Response, error)
}

// ExtractionRequest carries cleaned evidence for one category.
type ExtractionRequest struct {
	City     string
	Country  string
	Category Category
	Evidence Evidence
	Query    string
}

// Extractor turns evidence into a structured cost record. The returned
// confidence is on a 0-100 scale before strategy weighting.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (CostCategoryResult, error)
}

// Cache stores whole perception bundles keyed by CityRef.Key. Failures are
// never fatal to a run.
type Cache interface {
	Has(ctx context.Context, key string, maxAgeDays int) (bool, error)
	Load(ctx context.Context, key string) (PerceptionBundle, bool, error)
	Save(ctx context.Context, key string, bundle PerceptionBundle, maxAgeDays int) error
}

// Event is a progress notification from a running agent.
type Event struct {
	Type      string         `json:"type"`
	City      string         `json:"city"`
	Country   string         `json:"country"`
	Iteration int            `json:"iteration"`
	Payload   map[string]any `json:"payload,omitempty"`
}

const (
	EventIterationStarted  = "iteration.started"
	EventCategoryPerceived = "category.perceived"
	EventCategoryReasoned  = "category.reasoned"
	EventReflection        = "reflection.completed"
	EventAgentCompleted    = "agent.completed"
)

type EventSink interface {
	Emit(ctx context.Context, event Event)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

type nopCache struct{}

func (nopCache) Has(context.Context, string, int) (bool, error) { return false, nil }

func (nopCache) Load(context.Context, string) (PerceptionBundle, bool, error) {
	return PerceptionBundle{}, false, nil
}

func (nopCache) Save(context.Context, string, PerceptionBundle, int) error { return nil }
