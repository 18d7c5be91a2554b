// Package agent implements the per-city evidence-gathering loop: perceive
// evidence per cost category, reason it into structured costs, reflect on
// goal satisfaction and retry with adapted strategies.
package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keyring-Network/keyring-atlas/internal/telemetry"
)

var tracer = telemetry.Tracer("github.com/Keyring-Network/keyring-atlas/internal/agent")

const (
	defaultResultLimit     = 10
	defaultCacheMaxAgeDays = 7
	defaultPacing          = time.Second
)

// Agent holds the collaborators and settings shared by every city run. It
// keeps no per-city state, so one Agent can serve concurrent runs.
type Agent struct {
	searcher        Searcher
	extractor       Extractor
	cache           Cache
	sink            EventSink
	categories      []Category
	goals           Goals
	pacing          time.Duration
	resultLimit     int
	cacheMaxAgeDays int
	ppp             PPPTable
	weights         RemoteWorkWeights
	budget          float64
	now             func() time.Time
}

type Option func(*Agent)

func WithCategories(categories []Category) Option {
	return func(a *Agent) {
		if len(categories) > 0 {
			a.categories = append([]Category(nil), categories...)
		}
	}
}

func WithGoals(goals Goals) Option {
	return func(a *Agent) {
		a.goals = goals
	}
}

func WithCache(cache Cache) Option {
	return func(a *Agent) {
		if cache != nil {
			a.cache = cache
		}
	}
}

func WithEventSink(sink EventSink) Option {
	return func(a *Agent) {
		if sink != nil {
			a.sink = sink
		}
	}
}

// WithPacing sets the pause between consecutive external calls.
func WithPacing(pause time.Duration) Option {
	return func(a *Agent) {
		a.pacing = pause
	}
}

func WithResultLimit(limit int) Option {
	return func(a *Agent) {
		if limit > 0 {
			a.resultLimit = limit
		}
	}
}

func WithCacheMaxAgeDays(days int) Option {
	return func(a *Agent) {
		if days > 0 {
			a.cacheMaxAgeDays = days
		}
	}
}

func WithPPPTable(table PPPTable) Option {
	return func(a *Agent) {
		if table != nil {
			a.ppp = table
		}
	}
}

func WithRemoteWorkWeights(weights RemoteWorkWeights) Option {
	return func(a *Agent) {
		a.weights = weights
	}
}

// WithBudget sets the monthly USD budget used for headroom.
func WithBudget(budget float64) Option {
	return func(a *Agent) {
		a.budget = budget
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

func New(searcher Searcher, extractor Extractor, opts ...Option) *Agent {
	a := &Agent{
		searcher:        searcher,
		extractor:       extractor,
		cache:           nopCache{},
		sink:            nopSink{},
		categories:      DefaultCategories(),
		goals:           DefaultGoals(),
		pacing:          defaultPacing,
		resultLimit:     defaultResultLimit,
		cacheMaxAgeDays: defaultCacheMaxAgeDays,
		ppp:             DefaultPPPTable(),
		weights:         DefaultRemoteWorkWeights(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Categories() []Category {
	return append([]Category(nil), a.categories...)
}

// run is the mutable state of one city's loop. It never escapes Run.
type run struct {
	city     CityRef
	memory   *Memory
	state    *State
	bundle   PerceptionBundle
	results  map[string]CostCategoryResult
	analysis *CityAnalysis
	passes   int
	logger   zerolog.Logger
}

// Run drives perceive -> reason -> reflect for one city until the goals are
// met, a retry is not warranted, or MaxIterations passes have run. It never
// fails: errors surface as low confidence, low completeness or a degraded
// analysis. Cancelling ctx stops the loop at the next external call.
func (a *Agent) Run(ctx context.Context, city CityRef) CityAnalysis {
	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("city", city.City),
		attribute.String("country", city.Country),
	))
	defer span.End()

	r := &run{
		city:    city,
		memory:  NewMemory(),
		state:   &State{},
		bundle:  PerceptionBundle{City: city.City, Country: city.Country, Categories: map[string]CategoryEvidence{}},
		results: map[string]CostCategoryResult{},
		logger: log.With().
			Str("city", city.City).
			Str("country", city.Country).
			Logger(),
	}
	r.logger.Info().Func(telemetry.LogTraceFields(ctx)).Msg("agent started")

	for r.state.Iteration < MaxIterations {
		if err := ctx.Err(); err != nil {
			r.memory.RecordError(AgentError{Iteration: r.state.Iteration, Stage: "loop", Message: err.Error()})
			r.logger.Warn().Err(err).Int("iteration", r.state.Iteration).Msg("agent stopped before goals were evaluated")
			break
		}
		iterationsTotal.Add(ctx, 1)
		r.passes++

		decision, err := a.step(ctx, r)
		if err != nil {
			r.memory.RecordError(AgentError{Iteration: r.state.Iteration, Stage: "loop", Message: err.Error()})
			recordFailure(ctx, "loop")
			r.logger.Error().Err(err).Int("iteration", r.state.Iteration).Msg("iteration failed; advancing")
			r.state.Iteration++
			continue
		}
		if !decision.Continue {
			break
		}
		r.advance(decision)
	}

	analysis := a.finalize(r)
	confidenceHist.Record(ctx, analysis.Confidence)
	span.SetAttributes(
		attribute.Float64("confidence", analysis.Confidence),
		attribute.Bool("goals_met", analysis.GoalsMet),
		attribute.Int("iterations", analysis.Iterations),
	)
	a.sink.Emit(ctx, Event{
		Type:      EventAgentCompleted,
		City:      city.City,
		Country:   city.Country,
		Iteration: r.state.Iteration,
		Payload: map[string]any{
			"confidence":   analysis.Confidence,
			"completeness": analysis.Completeness,
			"goals_met":    analysis.GoalsMet,
			"iterations":   analysis.Iterations,
			"degraded":     analysis.Degraded,
		},
	})
	r.logger.Info().
		Func(telemetry.LogTraceFields(ctx)).
		Float64("confidence", analysis.Confidence).
		Float64("completeness", analysis.Completeness).
		Bool("goals_met", analysis.GoalsMet).
		Int("iterations", analysis.Iterations).
		Msg("agent completed")
	return analysis
}

// step runs one pass. Panics are turned into errors so the loop can move on.
func (a *Agent) step(ctx context.Context, r *run) (decision Decision, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Debug().Str("stack", string(debug.Stack())).Msg("iteration panic")
			err = fmt.Errorf("iteration %d panicked: %v", r.state.Iteration, recovered)
		}
	}()

	iteration := r.state.Iteration
	a.sink.Emit(ctx, Event{
		Type:      EventIterationStarted,
		City:      r.city.City,
		Country:   r.city.Country,
		Iteration: iteration,
		Payload:   map[string]any{"adaptations": adaptationNames(r.state.PendingAdaptations)},
	})

	pending := a.pendingCategories(r)
	fromCache := false
	if iteration == 0 {
		if cached, ok := a.loadCached(ctx, r.city, r.logger); ok {
			r.bundle = cached.clone()
			pending = a.Categories()
			fromCache = true
		}
	}
	if !fromCache {
		gathered := a.perceive(ctx, r.city, pending, r.memory, r.state, r.logger)
		// A revisited category whose search failed keeps its earlier result
		// but not its evidence, so it is neither re-reasoned nor counted.
		for _, category := range pending {
			if evidence, ok := gathered[category.Name]; ok {
				r.bundle.Categories[category.Name] = evidence
			} else {
				delete(r.bundle.Categories, category.Name)
			}
		}
		r.bundle.FromCache = false
		r.bundle.GatheredAt = a.now().UTC()
		if len(gathered) > 0 {
			a.saveCached(ctx, r.city, r.bundle, r.logger)
		}
	}
	r.state.Completeness = a.completeness(r.bundle)

	analysis := a.reasonSafely(ctx, r.city, r.bundle, pending, r.results, r.memory, iteration, r.logger)
	if analysis.Degraded && r.analysis != nil && !r.analysis.Degraded {
		r.logger.Warn().Int("iteration", iteration).Msg("reasoning failed; keeping the previous analysis")
		analysis = *r.analysis
	}
	if !analysis.Degraded {
		r.results = make(map[string]CostCategoryResult, len(analysis.Categories))
		for name, result := range analysis.Categories {
			r.results[name] = result
		}
	}
	r.analysis = &analysis
	r.state.Confidence = analysis.Confidence

	decision = Reflect(*r.state, a.goals, a.categories, analysis.Categories)
	r.state.GoalsMet = decision.Evaluation.GoalsMet
	r.logger.Info().
		Int("iteration", iteration).
		Float64("confidence", r.state.Confidence).
		Float64("completeness", r.state.Completeness).
		Bool("goals_met", r.state.GoalsMet).
		Bool("retry", decision.Continue).
		Strs("adaptations", adaptationNames(decision.Adaptations)).
		Msg("reflection")
	a.sink.Emit(ctx, Event{
		Type:      EventReflection,
		City:      r.city.City,
		Country:   r.city.Country,
		Iteration: iteration,
		Payload: map[string]any{
			"confidence":   r.state.Confidence,
			"completeness": r.state.Completeness,
			"goals_met":    r.state.GoalsMet,
			"retry":        decision.Continue,
			"adaptations":  adaptationNames(decision.Adaptations),
			"weak":         decision.Weak,
		},
	})
	return decision, nil
}

// advance applies a retry decision: the next pass gets the new adaptations
// and, for alternative_category_approach, failures older than the pass just
// finished become eligible again.
func (r *run) advance(decision Decision) {
	finished := r.state.Iteration
	if decision.Adaptations.Has(AdaptAlternativeCategoryApproach) {
		if cleared := r.memory.ClearFailuresBefore(finished); cleared > 0 {
			r.logger.Debug().Int("cleared", cleared).Int("iteration", finished).Msg("failure history relaxed")
		}
	}
	r.state.Iteration = finished + 1
	r.state.PendingAdaptations = append(AdaptationSet(nil), decision.Adaptations...)
}

// pendingCategories returns every category on the first pass. Later passes
// revisit missing or weak categories, or, when none are weak, the ones still
// below the confidence target.
func (a *Agent) pendingCategories(r *run) []Category {
	if r.state.Iteration == 0 {
		return a.Categories()
	}
	below := func(threshold float64) []Category {
		pending := []Category{}
		for _, category := range a.categories {
			result, ok := r.results[category.Name]
			if !ok || float64(result.Confidence) < threshold {
				pending = append(pending, category)
			}
		}
		return pending
	}
	if pending := below(LowConfidenceThreshold); len(pending) > 0 {
		return pending
	}
	return below(a.goals.ConfidenceTarget)
}

func (a *Agent) completeness(bundle PerceptionBundle) float64 {
	if len(a.categories) == 0 {
		return 0
	}
	covered := 0
	for _, category := range a.categories {
		if _, ok := bundle.Categories[category.Name]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(a.categories))
}

func (a *Agent) finalize(r *run) CityAnalysis {
	var analysis CityAnalysis
	if r.analysis != nil {
		analysis = *r.analysis
	} else {
		analysis = degradedAnalysis(r.city, "no analysis produced")
	}
	analysis.Completeness = r.state.Completeness
	analysis.GoalsMet = r.state.GoalsMet && !analysis.Degraded
	analysis.Iterations = r.passes
	analysis.Errors = r.memory.Errors()
	analysis.Attempts = r.memory.Attempts()
	analysis.CompletedAt = a.now().UTC()
	return analysis
}

func adaptationNames(set AdaptationSet) []string {
	names := make([]string, 0, len(set))
	for _, adaptation := range set {
		names = append(names, string(adaptation))
	}
	return names
}
