package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var adaptationSuffixes = map[Adaptation]string{
	AdaptExpandSearchTerms: "average price cost monthly estimate",
	AdaptTryLocalSources:   "(site:reddit.com OR site:expat.com OR site:internations.org)",
}

// BuildQuery renders a strategy query and appends the terms for each pending
// adaptation in insertion order.
func BuildQuery(strategy Strategy, category Category, city CityRef, adaptations AdaptationSet) string {
	query := strategy.BuildQuery(category, city.City, city.Country)
	for _, adaptation := range adaptations {
		if suffix, ok := adaptationSuffixes[adaptation]; ok {
			query += " " + suffix
		}
	}
	return query
}

// perceive gathers evidence for the given categories. A failed retrieval is
// recorded against the strategy and skipped; the stage never fails as a whole.
func (a *Agent) perceive(ctx context.Context, city CityRef, categories []Category, memory *Memory, state *State, logger zerolog.Logger) map[string]CategoryEvidence {
	ctx, span := tracer.Start(ctx, "agent.perceive", trace.WithAttributes(
		attribute.String("city", city.String()),
		attribute.Int("iteration", state.Iteration),
		attribute.Int("categories", len(categories)),
	))
	defer span.End()

	gathered := make(map[string]CategoryEvidence, len(categories))
	for i, category := range categories {
		if i > 0 {
			if err := a.pause(ctx); err != nil {
				break
			}
		}
		strategy := SelectStrategy(memory, category.Name, state.Iteration)
		query := BuildQuery(strategy, category, city, state.PendingAdaptations)

		resp, err := a.searcher.Search(ctx, query, a.resultLimit)
		if err != nil {
			memory.Record(category.Name, strategy.Name, false, 0, state.Iteration)
			memory.RecordError(AgentError{
				Iteration: state.Iteration,
				Category:  category.Name,
				Stage:     "perception",
				Message:   fmt.Sprintf("search failed: %v", err),
			})
			recordCategoryOutcome(ctx, category.Name, strategy.Name, false)
			recordFailure(ctx, "perception")
			logger.Warn().Err(err).
				Str("category", category.Name).
				Str("strategy", string(strategy.Name)).
				Int("iteration", state.Iteration).
				Msg("retrieval failed")
			continue
		}

		evidence := CleanEvidence(resp)
		item := CategoryEvidence{
			Category:           category.Name,
			Query:              query,
			Evidence:           evidence,
			Quality:            ScoreEvidence(evidence),
			Strategy:           strategy.Name,
			ConfidenceModifier: strategy.ConfidenceModifier,
			Adaptations:        append(AdaptationSet(nil), state.PendingAdaptations...),
			Iteration:          state.Iteration,
		}
		gathered[category.Name] = item
		logger.Debug().
			Str("category", category.Name).
			Str("strategy", string(strategy.Name)).
			Int("quality", item.Quality).
			Int("results", len(evidence.Items)).
			Msg("category perceived")
		a.sink.Emit(ctx, Event{
			Type:      EventCategoryPerceived,
			City:      city.City,
			Country:   city.Country,
			Iteration: state.Iteration,
			Payload: map[string]any{
				"category": category.Name,
				"strategy": string(strategy.Name),
				"quality":  item.Quality,
				"query":    query,
			},
		})
	}
	span.SetAttributes(attribute.Int("gathered", len(gathered)))
	return gathered
}

// loadCached returns a cached bundle when one exists within the expiry window.
func (a *Agent) loadCached(ctx context.Context, city CityRef, logger zerolog.Logger) (PerceptionBundle, bool) {
	key := city.Key()
	ok, err := a.cache.Has(ctx, key, a.cacheMaxAgeDays)
	if err != nil {
		logger.Warn().Err(err).Str("cache_key", key).Msg("cache lookup failed")
		return PerceptionBundle{}, false
	}
	if !ok {
		return PerceptionBundle{}, false
	}
	bundle, found, err := a.cache.Load(ctx, key)
	if err != nil || !found || len(bundle.Categories) == 0 {
		if err != nil {
			logger.Warn().Err(err).Str("cache_key", key).Msg("cache load failed")
		}
		return PerceptionBundle{}, false
	}
	bundle.FromCache = true
	cacheHits.Add(ctx, 1)
	logger.Info().Str("cache_key", key).Int("categories", len(bundle.Categories)).Msg("perception served from cache")
	return bundle, true
}

func (a *Agent) saveCached(ctx context.Context, city CityRef, bundle PerceptionBundle, logger zerolog.Logger) {
	if len(bundle.Categories) == 0 {
		return
	}
	stored := bundle.clone()
	stored.FromCache = false
	if err := a.cache.Save(ctx, city.Key(), stored, a.cacheMaxAgeDays); err != nil {
		logger.Warn().Err(err).Str("cache_key", city.Key()).Msg("cache save failed")
	}
}

// pause waits between external calls. It returns early when ctx is done.
func (a *Agent) pause(ctx context.Context) error {
	if a.pacing <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(a.pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
