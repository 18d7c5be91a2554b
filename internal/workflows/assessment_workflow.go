package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
)

const (
	ActivityMarkRunning        = "MarkRunning"
	ActivityAssessCity         = "AssessCity"
	ActivityFailCity           = "FailCity"
	ActivityCompleteAssessment = "CompleteAssessment"

	defaultCityTimeout = 10 * time.Minute
	// Room for saving the analysis after the agent's own deadline.
	cityActivitySlack = 2 * time.Minute
)

type AssessmentInput struct {
	AssessmentID string
	Budget       float64
	Cities       []agent.CityRef
	Stagger      time.Duration
	CityTimeout  time.Duration
}

type AssessmentResult struct {
	Status    string
	Completed int
	Failed    int
}

var bookkeepingOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval: time.Second,
		MaximumAttempts: 3,
	},
}

// AssessmentWorkflow fans one AssessCity activity out per city, staggering
// the launches, then records the overall outcome. A city that fails or times
// out never fails the workflow.
func AssessmentWorkflow(ctx workflow.Context, input AssessmentInput) (AssessmentResult, error) {
	logger := workflow.GetLogger(ctx)
	bookkeepingCtx := workflow.WithActivityOptions(ctx, bookkeepingOptions)

	cityTimeout := input.CityTimeout
	if cityTimeout <= 0 {
		cityTimeout = defaultCityTimeout
	}
	cityCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: cityTimeout + cityActivitySlack,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	if err := workflow.ExecuteActivity(bookkeepingCtx, ActivityMarkRunning, MarkRunningInput{
		AssessmentID: input.AssessmentID,
		Cities:       input.Cities,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to mark assessment running", "error", err)
	}

	futures := make([]workflow.Future, 0, len(input.Cities))
	for i, city := range input.Cities {
		if i > 0 && input.Stagger > 0 {
			if err := workflow.Sleep(ctx, input.Stagger); err != nil {
				break
			}
		}
		futures = append(futures, workflow.ExecuteActivity(cityCtx, ActivityAssessCity, AssessCityInput{
			AssessmentID: input.AssessmentID,
			Budget:       input.Budget,
			City:         city,
			Timeout:      cityTimeout,
		}))
	}

	result := AssessmentResult{Failed: len(input.Cities) - len(futures)}
	for i, future := range futures {
		city := input.Cities[i]
		var output AssessCityOutput
		err := future.Get(ctx, &output)
		if err == nil && !output.Degraded {
			result.Completed++
			continue
		}
		result.Failed++
		detail := output.Error
		if err != nil {
			detail = err.Error()
		}
		logger.Error("city assessment failed", "city", city.City, "country", city.Country, "error", detail)
		if ctx.Err() != nil {
			continue
		}
		if failErr := workflow.ExecuteActivity(bookkeepingCtx, ActivityFailCity, CityFailureInput{
			AssessmentID: input.AssessmentID,
			City:         city,
			Error:        detail,
		}).Get(ctx, nil); failErr != nil {
			logger.Error("failed to record city failure", "city", city.City, "error", failErr)
		}
	}

	completeCtx := bookkeepingCtx
	if ctx.Err() != nil {
		disconnected, _ := workflow.NewDisconnectedContext(ctx)
		completeCtx = workflow.WithActivityOptions(disconnected, bookkeepingOptions)
		result.Status = store.StatusCancelled
	} else {
		result.Status = outcomeStatus(result.Completed, result.Failed)
	}

	if err := workflow.ExecuteActivity(completeCtx, ActivityCompleteAssessment, CompleteAssessmentInput{
		AssessmentID: input.AssessmentID,
		Status:       result.Status,
		Completed:    result.Completed,
		Failed:       result.Failed,
		Error:        outcomeError(result),
	}).Get(completeCtx, nil); err != nil {
		logger.Error("failed to complete assessment", "error", err)
	}
	return result, nil
}

func outcomeStatus(completed, failed int) string {
	switch {
	case completed == 0:
		return store.StatusFailed
	case failed > 0:
		return store.StatusPartial
	default:
		return store.StatusCompleted
	}
}

func outcomeError(result AssessmentResult) string {
	switch result.Status {
	case store.StatusFailed:
		return "no city finished"
	case store.StatusPartial:
		return fmt.Sprintf("%d of %d cities failed", result.Failed, result.Completed+result.Failed)
	default:
		return ""
	}
}
