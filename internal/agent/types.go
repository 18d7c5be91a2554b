package agent

import (
	"slices"
	"strings"
	"time"
)

// MaxIterations bounds the perceive/reason/reflect passes per city.
const MaxIterations = 3

// LowConfidenceThreshold separates adequate category results from weak ones.
const LowConfidenceThreshold = 60

type CityRef struct {
	City    string `json:"city" yaml:"city"`
	Country string `json:"country" yaml:"country"`
}

func (c CityRef) String() string {
	if c.Country == "" {
		return c.City
	}
	return c.City + ", " + c.Country
}

// Key normalizes a city into the cache key space.
func (c CityRef) Key() string {
	normalize := func(value string) string {
		return strings.Join(strings.Fields(strings.ToLower(value)), "_")
	}
	return normalize(c.City) + "|" + normalize(c.Country)
}

type Adaptation string

const (
	AdaptExpandSearchTerms           Adaptation = "expand_search_terms"
	AdaptAlternativeCategoryApproach Adaptation = "alternative_category_approach"
	AdaptTryLocalSources             Adaptation = "try_local_sources"
)

// AdaptationSet is an insertion-ordered set of adaptations.
type AdaptationSet []Adaptation

func (s AdaptationSet) Has(adaptation Adaptation) bool {
	return slices.Contains(s, adaptation)
}

func (s AdaptationSet) With(adaptation Adaptation) AdaptationSet {
	if s.Has(adaptation) {
		return s
	}
	return append(slices.Clone(s), adaptation)
}

type Goals struct {
	MinAcceptableConfidence float64 `json:"min_acceptable_confidence"`
	ConfidenceTarget        float64 `json:"confidence_target"`
	CompletenessTarget      float64 `json:"completeness_target"`
}

func DefaultGoals() Goals {
	return Goals{
		MinAcceptableConfidence: 50,
		ConfidenceTarget:        75,
		CompletenessTarget:      0.8,
	}
}

// State is the loop's view of one city. Only the owning loop mutates it.
type State struct {
	Iteration          int           `json:"iteration"`
	Confidence         float64       `json:"confidence"`
	Completeness       float64       `json:"completeness"`
	GoalsMet           bool          `json:"goals_met"`
	PendingAdaptations AdaptationSet `json:"pending_adaptations"`
}

// CategoryEvidence is the perception output for one category.
type CategoryEvidence struct {
	Category           string        `json:"category"`
	Query              string        `json:"query"`
	Evidence           Evidence      `json:"evidence"`
	Quality            int           `json:"quality"`
	Strategy           StrategyName  `json:"strategy"`
	ConfidenceModifier float64       `json:"confidence_modifier"`
	Adaptations        AdaptationSet `json:"adaptations,omitempty"`
	Iteration          int           `json:"iteration"`
}

// PerceptionBundle maps category name to gathered evidence.
type PerceptionBundle struct {
	City       string                      `json:"city"`
	Country    string                      `json:"country"`
	Categories map[string]CategoryEvidence `json:"categories"`
	FromCache  bool                        `json:"from_cache"`
	GatheredAt time.Time                   `json:"gathered_at"`
}

func (b PerceptionBundle) clone() PerceptionBundle {
	out := b
	out.Categories = make(map[string]CategoryEvidence, len(b.Categories))
	for name, evidence := range b.Categories {
		out.Categories[name] = evidence
	}
	return out
}

type InternetDetails struct {
	SpeedMbps         float64 `json:"speed_mbps"`
	ReliabilityScore  float64 `json:"reliability_score"`
	FiberAvailability bool    `json:"fiber_availability"`
}

type CostCategoryResult struct {
	Category   string           `json:"category"`
	Amount     float64          `json:"amount"`
	Currency   string           `json:"currency"`
	USDAmount  float64          `json:"usd_amount"`
	Confidence int              `json:"confidence"`
	Source     string           `json:"source"`
	Notes      string           `json:"notes,omitempty"`
	Internet   *InternetDetails `json:"internet,omitempty"`
	Strategy   StrategyName     `json:"strategy,omitempty"`
	Iteration  int              `json:"iteration"`
}

// CityAnalysis is the final per-city output. It is not modified once the
// loop has returned it.
type CityAnalysis struct {
	City             string                        `json:"city"`
	Country          string                        `json:"country"`
	Categories       map[string]CostCategoryResult `json:"categories"`
	PPPFactor        float64                       `json:"ppp_factor"`
	PPPAdjusted      map[string]float64            `json:"ppp_adjusted"`
	MonthlyTotalUSD  float64                       `json:"monthly_total_usd"`
	PPPAdjustedTotal float64                       `json:"ppp_adjusted_total"`
	BudgetHeadroom   *float64                      `json:"budget_headroom,omitempty"`
	RemoteWorkScore  *float64                      `json:"remote_work_score,omitempty"`
	Confidence       float64                       `json:"confidence"`
	Completeness     float64                       `json:"completeness"`
	DataQuality      float64                       `json:"data_quality"`
	GoalsMet         bool                          `json:"goals_met"`
	Iterations       int                           `json:"iterations"`
	FromCache        bool                          `json:"from_cache"`
	Degraded         bool                          `json:"degraded,omitempty"`
	Error            string                        `json:"error,omitempty"`
	Errors           []AgentError                  `json:"errors,omitempty"`
	Attempts         []Attempt                     `json:"attempts,omitempty"`
	CompletedAt      time.Time                     `json:"completed_at"`
}

func degradedAnalysis(city CityRef, message string) CityAnalysis {
	return CityAnalysis{
		City:        city.City,
		Country:     city.Country,
		Categories:  map[string]CostCategoryResult{},
		PPPFactor:   1,
		PPPAdjusted: map[string]float64{},
		Degraded:    true,
		Error:       message,
	}
}
