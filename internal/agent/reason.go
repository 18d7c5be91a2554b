package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// reasonSafely runs the reasoning stage and substitutes a degraded analysis
// if it panics.
func (a *Agent) reasonSafely(ctx context.Context, city CityRef, bundle PerceptionBundle, pending []Category, carried map[string]CostCategoryResult, memory *Memory, iteration int, logger zerolog.Logger) (analysis CityAnalysis) {
	defer func() {
		if recovered := recover(); recovered != nil {
			message := fmt.Sprintf("reasoning failed: %v", recovered)
			memory.RecordError(AgentError{Iteration: iteration, Stage: "reasoning", Message: message})
			recordFailure(ctx, "reasoning")
			logger.Error().
				Int("iteration", iteration).
				Str("panic", fmt.Sprint(recovered)).
				Str("stack", string(debug.Stack())).
				Msg("reasoning stage failed; using degraded analysis")
			analysis = degradedAnalysis(city, message)
		}
	}()
	return a.reason(ctx, city, bundle, pending, carried, memory, iteration, logger)
}

// reason extracts a cost record for each pending category that has evidence,
// weights its confidence by the strategy, records the outcome in memory and
// aggregates everything, carried results included, into a CityAnalysis.
func (a *Agent) reason(ctx context.Context, city CityRef, bundle PerceptionBundle, pending []Category, carried map[string]CostCategoryResult, memory *Memory, iteration int, logger zerolog.Logger) CityAnalysis {
	ctx, span := tracer.Start(ctx, "agent.reason", trace.WithAttributes(
		attribute.String("city", city.String()),
		attribute.Int("iteration", iteration),
	))
	defer span.End()

	results := make(map[string]CostCategoryResult, len(carried)+len(pending))
	for name, result := range carried {
		results[name] = result
	}

	calls := 0
	for _, category := range pending {
		evidence, ok := bundle.Categories[category.Name]
		if !ok {
			continue
		}
		if calls > 0 {
			if err := a.pause(ctx); err != nil {
				break
			}
		}
		calls++

		extracted, err := a.extractor.Extract(ctx, ExtractionRequest{
			City:     city.City,
			Country:  city.Country,
			Category: category,
			Evidence: evidence.Evidence,
			Query:    evidence.Query,
		})
		if err != nil {
			memory.Record(category.Name, evidence.Strategy, false, 0, iteration)
			memory.RecordError(AgentError{
				Iteration: iteration,
				Category:  category.Name,
				Stage:     "reasoning",
				Message:   fmt.Sprintf("extraction failed: %v", err),
			})
			recordCategoryOutcome(ctx, category.Name, evidence.Strategy, false)
			recordFailure(ctx, "extraction")
			span.RecordError(err)
			logger.Warn().Err(err).
				Str("category", category.Name).
				Int("iteration", iteration).
				Msg("extraction failed")
			continue
		}

		raw := int(clamp(float64(extracted.Confidence), 0, 100))
		scaled := ScaleConfidence(raw, evidence.ConfidenceModifier)
		success := scaled >= LowConfidenceThreshold
		memory.Record(category.Name, evidence.Strategy, success, scaled, iteration)
		recordCategoryOutcome(ctx, category.Name, evidence.Strategy, success)

		extracted.Category = category.Name
		extracted.Confidence = scaled
		extracted.Strategy = evidence.Strategy
		extracted.Iteration = iteration
		if extracted.Source == "" && len(evidence.Evidence.Items) > 0 {
			extracted.Source = evidence.Evidence.Items[0].Source
		}
		if previous, exists := results[category.Name]; !exists || extracted.Confidence >= previous.Confidence {
			results[category.Name] = extracted
		}

		logger.Debug().
			Str("category", category.Name).
			Str("strategy", string(evidence.Strategy)).
			Int("raw_confidence", raw).
			Int("confidence", scaled).
			Float64("usd_amount", extracted.USDAmount).
			Msg("category reasoned")
		a.sink.Emit(ctx, Event{
			Type:      EventCategoryReasoned,
			City:      city.City,
			Country:   city.Country,
			Iteration: iteration,
			Payload: map[string]any{
				"category":   category.Name,
				"strategy":   string(evidence.Strategy),
				"confidence": scaled,
				"usd_amount": extracted.USDAmount,
				"success":    success,
			},
		})
	}

	analysis := CityAnalysis{
		City:       city.City,
		Country:    city.Country,
		Categories: results,
		FromCache:  bundle.FromCache,
	}
	aggregate(&analysis, bundle, a.ppp, a.weights, a.budget)
	span.SetAttributes(attribute.Float64("confidence", analysis.Confidence))
	if len(results) == 0 {
		span.SetStatus(codes.Error, "no category results")
	}
	return analysis
}
