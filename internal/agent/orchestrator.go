package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Runner is the per-city unit the orchestrator fans out. *Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, city CityRef) CityAnalysis
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, city CityRef) CityAnalysis

func (f RunnerFunc) Run(ctx context.Context, city CityRef) CityAnalysis {
	return f(ctx, city)
}

// Orchestrator runs one agent loop per city concurrently. Cities never share
// state; a panic or timeout in one city does not affect the others.
type Orchestrator struct {
	runner      Runner
	stagger     time.Duration
	cityTimeout time.Duration
	limit       int
}

type OrchestratorOption func(*Orchestrator)

// WithStagger spaces consecutive city starts at least stagger apart. A city
// waiting on the concurrency limit does not wait again once a slot frees.
func WithStagger(stagger time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.stagger = stagger
	}
}

func WithCityTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cityTimeout = timeout
	}
}

// WithConcurrency bounds the number of cities running at once. Zero means
// one goroutine per city.
func WithConcurrency(limit int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.limit = limit
	}
}

func NewOrchestrator(runner Runner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runner:  runner,
		stagger: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run assesses every city and returns the analyses of the cities that
// completed, in input order.
func (o *Orchestrator) Run(ctx context.Context, cities []CityRef) []CityAnalysis {
	results := make([]*CityAnalysis, len(cities))

	group := &errgroup.Group{}
	if o.limit > 0 {
		group.SetLimit(o.limit)
	}
	var next time.Time
	for i, city := range cities {
		if i > 0 {
			if err := waitUntil(ctx, next); err != nil {
				log.Warn().Err(err).Int("skipped", len(cities)-i).Msg("cancelled before every city started")
				break
			}
		}
		group.Go(func() error {
			analysis, err := o.runCity(ctx, city)
			if err != nil {
				log.Error().Err(err).Str("city", city.City).Str("country", city.Country).Msg("city assessment failed")
				return nil
			}
			results[i] = &analysis
			return nil
		})
		next = time.Now().Add(o.stagger)
	}
	_ = group.Wait()

	out := make([]CityAnalysis, 0, len(cities))
	for _, analysis := range results {
		if analysis != nil {
			out = append(out, *analysis)
		}
	}
	return out
}

func (o *Orchestrator) runCity(ctx context.Context, city CityRef) (analysis CityAnalysis, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("agent panicked: %v", recovered)
		}
	}()

	cityCtx := ctx
	if o.cityTimeout > 0 {
		var cancel context.CancelFunc
		cityCtx, cancel = context.WithTimeout(ctx, o.cityTimeout)
		defer cancel()
	}
	return o.runner.Run(cityCtx, city), nil
}

// waitUntil blocks until deadline or until ctx is done. A deadline already
// passed returns at once.
func waitUntil(ctx context.Context, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
