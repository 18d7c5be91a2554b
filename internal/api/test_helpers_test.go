package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/Keyring-Network/keyring-atlas/internal/config"
	"github.com/Keyring-Network/keyring-atlas/internal/events"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/workflows"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateAssessment(ctx context.Context, assessment store.Assessment) error {
	args := m.Called(ctx, assessment)
	return args.Error(0)
}

func (m *MockStore) GetAssessment(ctx context.Context, id string) (*store.Assessment, error) {
	args := m.Called(ctx, id)
	if value := args.Get(0); value != nil {
		return value.(*store.Assessment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListAssessments(ctx context.Context) ([]store.Assessment, error) {
	args := m.Called(ctx)
	var result []store.Assessment
	if value := args.Get(0); value != nil {
		result = value.([]store.Assessment)
	}
	return result, args.Error(1)
}

func (m *MockStore) UpdateAssessmentStatus(ctx context.Context, id string, status string, errMessage string) error {
	args := m.Called(ctx, id, status, errMessage)
	return args.Error(0)
}

func (m *MockStore) SaveCityAnalysis(ctx context.Context, record store.CityAnalysisRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStore) ListCityAnalyses(ctx context.Context, assessmentID string) ([]store.CityAnalysisRecord, error) {
	args := m.Called(ctx, assessmentID)
	var result []store.CityAnalysisRecord
	if value := args.Get(0); value != nil {
		result = value.([]store.CityAnalysisRecord)
	}
	return result, args.Error(1)
}

func (m *MockStore) AppendEvent(ctx context.Context, event store.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListEvents(ctx context.Context, assessmentID string, afterSeq int64) ([]store.Event, error) {
	args := m.Called(ctx, assessmentID, afterSeq)
	var result []store.Event
	if value := args.Get(0); value != nil {
		result = value.([]store.Event)
	}
	return result, args.Error(1)
}

func (m *MockStore) NextSeq(ctx context.Context, assessmentID string) (int64, error) {
	args := m.Called(ctx, assessmentID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListCityProgress(ctx context.Context, assessmentID string) ([]store.CityProgress, error) {
	args := m.Called(ctx, assessmentID)
	var result []store.CityProgress
	if value := args.Get(0); value != nil {
		result = value.([]store.CityProgress)
	}
	return result, args.Error(1)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.Event) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, assessmentID string) <-chan events.Event {
	args := m.Called(ctx, assessmentID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.Event); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.Event); ok {
			return ch
		}
	}
	return nil
}

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) StartAssessment(ctx context.Context, input workflows.AssessmentInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

func (m *MockWorkflowService) CancelAssessment(ctx context.Context, assessmentID string) error {
	args := m.Called(ctx, assessmentID)
	return args.Error(0)
}

func newTestServer(t *testing.T, store store.Store, broker Broker, workflows WorkflowService, cfg config.Config) *httptest.Server {
	t.Helper()
	server := NewServer(store, broker, workflows, cfg)
	return httptest.NewServer(server.Router())
}
