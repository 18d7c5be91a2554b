package search

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited paces calls to a shared provider with a token bucket so that
// concurrent city runs do not burst the upstream API.
type Limited struct {
	next    Provider
	limiter *rate.Limiter
}

func NewLimited(next Provider, perMinute int) *Limited {
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

func (l *Limited) Search(ctx context.Context, query string, limit int) (Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return l.next.Search(ctx, query, limit)
}
