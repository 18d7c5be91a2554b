package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
)

const DefaultTaskQueue = "atlas-assessments"

type Service struct {
	client      client.Client
	taskQueue   string
	stagger     time.Duration
	cityTimeout time.Duration
}

type ServiceOption func(*Service)

// WithAssessmentDefaults fills in stagger and city timeout for inputs that
// leave them unset.
func WithAssessmentDefaults(stagger, cityTimeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.stagger = stagger
		s.cityTimeout = cityTimeout
	}
}

func NewService(client client.Client, taskQueue string, opts ...ServiceOption) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	service := &Service{client: client, taskQueue: taskQueue}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func (s *Service) StartAssessment(ctx context.Context, input AssessmentInput) error {
	if input.Stagger <= 0 {
		input.Stagger = s.stagger
	}
	if input.CityTimeout <= 0 {
		input.CityTimeout = s.cityTimeout
	}
	options := client.StartWorkflowOptions{
		ID:        workflowID(input.AssessmentID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, AssessmentWorkflow, input)
	return err
}

func (s *Service) CancelAssessment(ctx context.Context, assessmentID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(assessmentID), "")
}

func workflowID(assessmentID string) string {
	return fmt.Sprintf("assessment:%s", assessmentID)
}
