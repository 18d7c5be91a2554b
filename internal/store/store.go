package store

import (
	"context"
	"errors"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

var ErrNotFound = errors.New("not found")

type Assessment struct {
	ID        string
	Status    string
	Budget    float64
	Cities    []agent.CityRef
	Error     string
	CreatedAt string
	UpdatedAt string
}

type CityAnalysisRecord struct {
	AssessmentID string
	City         string
	Country      string
	Analysis     agent.CityAnalysis
	CreatedAt    string
}

type Event struct {
	AssessmentID string
	Seq          int64
	Type         string
	Timestamp    string
	Source       string
	TraceID      string
	Payload      map[string]any
}

// CityProgress is the per-city view folded from an assessment's events.
type CityProgress struct {
	AssessmentID string
	City         string
	Country      string
	Status       string
	Iteration    int
	Confidence   float64
	Completeness float64
	GoalsMet     bool
	Seq          int64
	StartedAt    string
	CompletedAt  string
	Error        string
}

type Store interface {
	CreateAssessment(ctx context.Context, assessment Assessment) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)
	ListAssessments(ctx context.Context) ([]Assessment, error)
	UpdateAssessmentStatus(ctx context.Context, id string, status string, errMessage string) error
	SaveCityAnalysis(ctx context.Context, record CityAnalysisRecord) error
	ListCityAnalyses(ctx context.Context, assessmentID string) ([]CityAnalysisRecord, error)
	AppendEvent(ctx context.Context, event Event) error
	ListEvents(ctx context.Context, assessmentID string, afterSeq int64) ([]Event, error)
	NextSeq(ctx context.Context, assessmentID string) (int64, error)
	ListCityProgress(ctx context.Context, assessmentID string) ([]CityProgress, error)
}

// IsTerminal reports whether an assessment in this status will not change
// again.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
