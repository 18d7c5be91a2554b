package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/Keyring-Network/keyring-atlas/internal/agent")

var (
	iterationsTotal   metric.Int64Counter
	categoryOutcomes  metric.Int64Counter
	cacheHits         metric.Int64Counter
	confidenceHist    metric.Float64Histogram
	recoveredFailures metric.Int64Counter
)

func init() {
	var err error
	iterationsTotal, err = meter.Int64Counter("agent.iterations.total",
		metric.WithDescription("Perceive/reason/reflect passes executed"))
	if err != nil {
		iterationsTotal, _ = meter.Int64Counter("agent.iterations.total.fallback")
	}

	categoryOutcomes, err = meter.Int64Counter("agent.category.outcomes",
		metric.WithDescription("Category outcomes by strategy and result"))
	if err != nil {
		categoryOutcomes, _ = meter.Int64Counter("agent.category.outcomes.fallback")
	}

	cacheHits, err = meter.Int64Counter("agent.cache.hits",
		metric.WithDescription("Perception bundles served from cache"))
	if err != nil {
		cacheHits, _ = meter.Int64Counter("agent.cache.hits.fallback")
	}

	confidenceHist, err = meter.Float64Histogram("agent.city.confidence",
		metric.WithDescription("Final per-city confidence"))
	if err != nil {
		confidenceHist, _ = meter.Float64Histogram("agent.city.confidence.fallback")
	}

	recoveredFailures, err = meter.Int64Counter("agent.failures.recovered",
		metric.WithDescription("Errors recovered inside the agent loop by stage"))
	if err != nil {
		recoveredFailures, _ = meter.Int64Counter("agent.failures.recovered.fallback")
	}
}

func recordCategoryOutcome(ctx context.Context, category string, strategy StrategyName, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	categoryOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("strategy", string(strategy)),
		attribute.String("outcome", outcome),
	))
}

func recordFailure(ctx context.Context, stage string) {
	recoveredFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
