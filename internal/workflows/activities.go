package workflows

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
)

type MarkRunningInput struct {
	AssessmentID string
	Cities       []agent.CityRef
}

type AssessCityInput struct {
	AssessmentID string
	Budget       float64
	City         agent.CityRef
	Timeout      time.Duration
}

type AssessCityOutput struct {
	City       string
	Country    string
	Confidence float64
	GoalsMet   bool
	Iterations int
	Degraded   bool
	Error      string
}

type CityFailureInput struct {
	AssessmentID string
	City         agent.CityRef
	Error        string
}

type CompleteAssessmentInput struct {
	AssessmentID string
	Status       string
	Completed    int
	Failed       int
	Error        string
}

// RunnerFactory builds the per-city runner. The sink receives the agent's
// progress events for the assessment.
type RunnerFactory func(budget float64, sink agent.EventSink) agent.Runner

// AssessmentActivities reports progress to the control plane over HTTP and
// falls back to writing the store directly when one is configured.
type AssessmentActivities struct {
	store          store.Store
	newRunner      RunnerFactory
	controlPlane   string
	httpClient     *http.Client
	requestTimeout time.Duration
	cityTimeout    time.Duration
}

type ActivitiesOption func(*AssessmentActivities)

func WithHTTPClient(client *http.Client) ActivitiesOption {
	return func(a *AssessmentActivities) {
		if client != nil {
			a.httpClient = client
		}
	}
}

func WithCityTimeout(timeout time.Duration) ActivitiesOption {
	return func(a *AssessmentActivities) {
		if timeout > 0 {
			a.cityTimeout = timeout
		}
	}
}

// NewAssessmentActivities wires the activities. st may be nil, in which case
// the control plane is the only sink.
func NewAssessmentActivities(st store.Store, newRunner RunnerFactory, controlPlaneURL string, opts ...ActivitiesOption) *AssessmentActivities {
	activities := &AssessmentActivities{
		store:          st,
		newRunner:      newRunner,
		controlPlane:   strings.TrimRight(controlPlaneURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		requestTimeout: 10 * time.Second,
		cityTimeout:    defaultCityTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(activities)
		}
	}
	return activities
}

func (a *AssessmentActivities) MarkRunning(ctx context.Context, input MarkRunningInput) error {
	if strings.TrimSpace(input.AssessmentID) == "" {
		return errors.New("assessment_id required")
	}
	return a.emitEvent(ctx, input.AssessmentID, "assessment.started", map[string]any{
		"cities": len(input.Cities),
	})
}

// AssessCity runs the agent loop for one city under the city timeout and
// persists whatever analysis it produced.
func (a *AssessmentActivities) AssessCity(ctx context.Context, input AssessCityInput) (AssessCityOutput, error) {
	if strings.TrimSpace(input.AssessmentID) == "" {
		return AssessCityOutput{}, errors.New("assessment_id required")
	}
	if strings.TrimSpace(input.City.City) == "" {
		return AssessCityOutput{}, errors.New("city required")
	}
	if a.newRunner == nil {
		return AssessCityOutput{}, errors.New("agent runner not configured")
	}
	logger := log.With().
		Str("assessment_id", input.AssessmentID).
		Str("city", input.City.City).
		Str("country", input.City.Country).
		Logger()

	if err := a.emitEvent(ctx, input.AssessmentID, "city.started", cityPayload(input.City, nil)); err != nil {
		logger.Warn().Err(err).Msg("city start event not delivered")
	}

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = a.cityTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sink := &eventSink{activities: a, assessmentID: input.AssessmentID}
	analysis := a.newRunner(input.Budget, sink).Run(runCtx, input.City)
	if err := ctx.Err(); err != nil {
		return AssessCityOutput{}, fmt.Errorf("assessing %s: %w", input.City, err)
	}

	if err := a.saveAnalysis(ctx, input.AssessmentID, analysis); err != nil {
		return AssessCityOutput{}, fmt.Errorf("saving analysis for %s: %w", input.City, err)
	}
	logger.Info().
		Float64("confidence", analysis.Confidence).
		Bool("goals_met", analysis.GoalsMet).
		Bool("degraded", analysis.Degraded).
		Msg("city assessed")
	return AssessCityOutput{
		City:       analysis.City,
		Country:    analysis.Country,
		Confidence: analysis.Confidence,
		GoalsMet:   analysis.GoalsMet,
		Iterations: analysis.Iterations,
		Degraded:   analysis.Degraded,
		Error:      analysis.Error,
	}, nil
}

func (a *AssessmentActivities) FailCity(ctx context.Context, input CityFailureInput) error {
	if strings.TrimSpace(input.AssessmentID) == "" {
		return errors.New("assessment_id required")
	}
	detail := strings.TrimSpace(input.Error)
	if detail == "" {
		detail = "unknown city activity error"
	}
	return a.emitEvent(ctx, input.AssessmentID, "city.failed", cityPayload(input.City, map[string]any{
		"error": detail,
	}))
}

func (a *AssessmentActivities) CompleteAssessment(ctx context.Context, input CompleteAssessmentInput) error {
	if strings.TrimSpace(input.AssessmentID) == "" {
		return errors.New("assessment_id required")
	}
	status := strings.TrimSpace(input.Status)
	if !store.IsTerminal(status) {
		return fmt.Errorf("unexpected completion status %q", input.Status)
	}
	payload := map[string]any{
		"status":    status,
		"completed": input.Completed,
		"failed":    input.Failed,
	}
	if input.Error != "" {
		payload["error"] = input.Error
	}
	return a.emitEvent(ctx, input.AssessmentID, "assessment."+status, payload)
}

func cityPayload(city agent.CityRef, extra map[string]any) map[string]any {
	payload := map[string]any{
		"city":    city.City,
		"country": city.Country,
	}
	for key, value := range extra {
		payload[key] = value
	}
	return payload
}

// eventSink forwards agent progress to the control plane. Delivery outlives
// the agent's own deadline so the final event still lands.
type eventSink struct {
	activities   *AssessmentActivities
	assessmentID string
}

func (s *eventSink) Emit(ctx context.Context, event agent.Event) {
	payload := make(map[string]any, len(event.Payload)+3)
	for key, value := range event.Payload {
		payload[key] = value
	}
	payload["city"] = event.City
	payload["country"] = event.Country
	payload["iteration"] = event.Iteration
	if err := s.activities.emitEvent(context.WithoutCancel(ctx), s.assessmentID, event.Type, payload); err != nil {
		log.Warn().
			Err(err).
			Str("assessment_id", s.assessmentID).
			Str("event", event.Type).
			Msg("agent event not delivered")
	}
}
