package llm

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultGenerateAttempts = 3
	defaultRequestTimeout   = 30 * time.Second
)

var retryableStatusRE = regexp.MustCompile(`(?:^|\D)(429|500|502|503|504)(?:\D|$)`)

// Candidate is one named provider in a FallbackProvider chain.
type Candidate struct {
	Name     string
	Provider Provider
}

// FallbackProvider retries transient failures against each candidate in
// order and moves to the next candidate when one is exhausted or the
// upstream gateway is down.
type FallbackProvider struct {
	candidates     []Candidate
	attempts       int
	requestTimeout time.Duration
	wait           func(ctx context.Context, d time.Duration) error
}

func NewFallbackProvider(candidates ...Candidate) *FallbackProvider {
	return &FallbackProvider{
		candidates:     candidates,
		attempts:       defaultGenerateAttempts,
		requestTimeout: defaultRequestTimeout,
		wait:           sleepContext,
	}
}

func (p *FallbackProvider) Candidates() []Candidate {
	return append([]Candidate(nil), p.candidates...)
}

func (p *FallbackProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if len(p.candidates) == 0 {
		return "", errors.New("no llm providers configured")
	}
	logger := zerolog.Ctx(ctx)
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for _, candidate := range p.candidates {
		for attempt := 1; attempt <= attempts; attempt++ {
			if delay := retryDelay(attempt); delay > 0 {
				if err := p.wait(ctx, delay); err != nil {
					return "", err
				}
			}

			generateCtx := ctx
			cancel := func() {}
			if p.requestTimeout > 0 {
				generateCtx, cancel = context.WithTimeout(ctx, p.requestTimeout)
			}
			response, err := candidate.Provider.Generate(generateCtx, messages)
			cancel()
			if err == nil && strings.TrimSpace(response) == "" {
				err = errors.New("LLM response had no content")
			}
			if err == nil {
				return response, nil
			}

			logger.Debug().
				Err(err).
				Str("provider", candidate.Name).
				Int("attempt", attempt).
				Msg("llm request failed")
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !IsRetryable(err) {
				return "", err
			}
			if shouldFailover(err) {
				break
			}
			// Timeouts are the slowest failure mode; cap these to two attempts.
			if isTimeout(err) && attempt >= 2 {
				break
			}
		}
	}
	if lastErr == nil {
		return "", errors.New("llm generation failed")
	}
	return "", lastErr
}

func retryDelay(attempt int) time.Duration {
	switch attempt {
	case 2:
		return 250 * time.Millisecond
	case 3:
		return 750 * time.Millisecond
	default:
		return 0
	}
}

// IsRetryable reports whether err looks transient: rate limits, 5xx,
// timeouts and dropped connections.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	if message == "" {
		return false
	}
	if strings.Contains(message, "timeout") || strings.Contains(message, "timed out") {
		return true
	}
	if strings.Contains(message, "bad gateway") || strings.Contains(message, "temporarily unavailable") {
		return true
	}
	if strings.Contains(message, "connection reset") || strings.Contains(message, "connection refused") {
		return true
	}
	if strings.Contains(message, "no content") || strings.Contains(message, "response was empty") {
		return true
	}
	return retryableStatusRE.MatchString(message)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "timed out")
}

func shouldFailover(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	if message == "" {
		return false
	}
	if strings.Contains(message, "bad gateway") || strings.Contains(message, "service unavailable") || strings.Contains(message, "gateway timeout") {
		return true
	}
	return strings.Contains(message, " 502") || strings.Contains(message, " 503") || strings.Contains(message, " 504")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
