package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/config"
	"github.com/Keyring-Network/keyring-atlas/internal/events"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/store/memory"
	"github.com/Keyring-Network/keyring-atlas/internal/workflows"
)

func TestNewServer(t *testing.T) {
	server := NewServer(&MockStore{}, &MockBroker{}, &MockWorkflowService{}, config.Config{})
	require.NotNil(t, server)
	require.NotNil(t, server.Router())
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "ok", payload["status"])
}

func TestReady(t *testing.T) {
	t.Run("ready when dependencies healthy", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("ListAssessments", mock.Anything).Return([]store.Assessment{}, nil).Once()

		server := newTestServer(t, storeMock, &MockBroker{}, &MockWorkflowService{}, config.Config{})
		defer server.Close()

		resp, err := http.Get(server.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload readinessResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, "ok", payload.Status)
		require.Equal(t, "ok", payload.Subsystems["store"].Status)
		require.Equal(t, "ok", payload.Subsystems["workflows"].Status)
		storeMock.AssertExpectations(t)
	})

	t.Run("degraded when store unavailable", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("ListAssessments", mock.Anything).Return(nil, errors.New("db unavailable")).Once()

		server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{})
		defer server.Close()

		resp, err := http.Get(server.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var payload readinessResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, "degraded", payload.Status)
		require.Equal(t, "error", payload.Subsystems["store"].Status)
		require.Equal(t, "skipped", payload.Subsystems["workflows"].Status)
		storeMock.AssertExpectations(t)
	})
}

func TestCreateAssessment(t *testing.T) {
	lisbon := agent.CityRef{City: "Lisbon", Country: "Portugal"}

	t.Run("starts workflow", func(t *testing.T) {
		storeMock := &MockStore{}
		brokerMock := &MockBroker{}
		workflowMock := &MockWorkflowService{}

		var createdID string
		storeMock.On("CreateAssessment", mock.Anything, mock.MatchedBy(func(assessment store.Assessment) bool {
			createdID = assessment.ID
			return assessment.Status == store.StatusQueued &&
				assessment.Budget == 1800 &&
				len(assessment.Cities) == 1 &&
				assessment.Cities[0] == lisbon
		})).Return(nil).Once()
		storeMock.On("NextSeq", mock.Anything, mock.Anything).Return(int64(1), nil).Once()
		storeMock.On("AppendEvent", mock.Anything, mock.MatchedBy(func(event store.Event) bool {
			return event.Type == "assessment.created" && event.Source == "control_plane" && event.TraceID != ""
		})).Return(nil).Once()
		brokerMock.On("Publish", mock.Anything).Once()
		workflowMock.On("StartAssessment", mock.Anything, mock.MatchedBy(func(input workflows.AssessmentInput) bool {
			return input.AssessmentID == createdID && input.Budget == 1800 && len(input.Cities) == 1
		})).Return(nil).Once()

		server := newTestServer(t, storeMock, brokerMock, workflowMock, config.Config{})
		defer server.Close()

		body := `{"budget":1800,"cities":[{"city":" Lisbon ","country":"Portugal"},{"city":"lisbon","country":"portugal"}]}`
		resp, err := http.Post(server.URL+"/assessments", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, createdID, payload["assessment_id"])
		require.Equal(t, store.StatusQueued, payload["status"])
		storeMock.AssertExpectations(t)
		brokerMock.AssertExpectations(t)
		workflowMock.AssertExpectations(t)
	})

	t.Run("defaults from config", func(t *testing.T) {
		st := memory.New()
		server := newTestServer(t, st, events.NewBroker(), nil, config.Config{
			MonthlyBudget: 2500,
			Cities:        []agent.CityRef{lisbon},
		})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		assessments, err := st.ListAssessments(context.Background())
		require.NoError(t, err)
		require.Len(t, assessments, 1)
		require.Equal(t, 2500.0, assessments[0].Budget)
		require.Equal(t, []agent.CityRef{lisbon}, assessments[0].Cities)
	})

	t.Run("validation", func(t *testing.T) {
		server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{})
		defer server.Close()

		for _, body := range []string{
			"{",
			`{"budget":-1,"cities":[{"city":"Lisbon"}]}`,
			`{"cities":[]}`,
			`{"cities":[{"city":" ","country":"Portugal"}]}`,
		} {
			resp, err := http.Post(server.URL+"/assessments", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		}
	})

	t.Run("workflow start failure", func(t *testing.T) {
		st := memory.New()
		workflowMock := &MockWorkflowService{}
		workflowMock.On("StartAssessment", mock.Anything, mock.Anything).Return(errors.New("temporal unavailable")).Once()

		server := newTestServer(t, st, events.NewBroker(), workflowMock, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments", "application/json", strings.NewReader(`{"cities":[{"city":"Lisbon"}]}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)

		assessments, err := st.ListAssessments(context.Background())
		require.NoError(t, err)
		require.Len(t, assessments, 1)
		require.Equal(t, store.StatusFailed, assessments[0].Status)
		require.Contains(t, assessments[0].Error, "temporal unavailable")
		workflowMock.AssertExpectations(t)
	})
}

func seedAssessment(t *testing.T, st store.Store, id string, status string) {
	t.Helper()
	require.NoError(t, st.CreateAssessment(context.Background(), store.Assessment{
		ID:     id,
		Status: status,
		Budget: 2000,
		Cities: []agent.CityRef{{City: "Lisbon", Country: "Portugal"}},
	}))
}

func TestListAssessments(t *testing.T) {
	st := memory.New()
	seedAssessment(t, st, "a-1", store.StatusRunning)

	server := newTestServer(t, st, events.NewBroker(), nil, config.Config{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/assessments")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload listAssessmentsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Assessments, 1)
	require.Equal(t, "a-1", payload.Assessments[0].ID)
	require.Equal(t, store.StatusRunning, payload.Assessments[0].Status)
}

func TestGetAssessment(t *testing.T) {
	t.Run("includes analyses and progress", func(t *testing.T) {
		st := memory.New()
		ctx := context.Background()
		seedAssessment(t, st, "a-2", store.StatusRunning)
		require.NoError(t, st.SaveCityAnalysis(ctx, store.CityAnalysisRecord{
			AssessmentID: "a-2",
			City:         "Lisbon",
			Country:      "Portugal",
			Analysis:     agent.CityAnalysis{City: "Lisbon", Country: "Portugal", Confidence: 81, GoalsMet: true},
		}))
		require.NoError(t, st.AppendEvent(ctx, store.Event{
			AssessmentID: "a-2",
			Seq:          1,
			Type:         "reflection.completed",
			Payload:      map[string]any{"city": "Lisbon", "country": "Portugal", "iteration": 1, "confidence": 81.0, "completeness": 1.0, "goals_met": true},
		}))

		server := newTestServer(t, st, events.NewBroker(), nil, config.Config{})
		defer server.Close()

		resp, err := http.Get(server.URL + "/assessments/a-2")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload assessmentDetailResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, "a-2", payload.ID)
		require.Len(t, payload.Analyses, 1)
		require.Equal(t, 81.0, payload.Analyses[0].Confidence)
		require.Len(t, payload.Progress, 1)
		require.Equal(t, 1, payload.Progress[0].Iteration)
		require.True(t, payload.Progress[0].GoalsMet)
	})

	t.Run("not found", func(t *testing.T) {
		server := newTestServer(t, memory.New(), events.NewBroker(), nil, config.Config{})
		defer server.Close()

		resp, err := http.Get(server.URL + "/assessments/missing")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("store error", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("GetAssessment", mock.Anything, "a-3").Return(nil, errors.New("boom")).Once()
		server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{})
		defer server.Close()

		resp, err := http.Get(server.URL + "/assessments/a-3")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		storeMock.AssertExpectations(t)
	})
}

func TestCancelAssessment(t *testing.T) {
	t.Run("cancels running assessment", func(t *testing.T) {
		st := memory.New()
		seedAssessment(t, st, "a-4", store.StatusRunning)
		workflowMock := &MockWorkflowService{}
		workflowMock.On("CancelAssessment", mock.Anything, "a-4").Return(nil).Once()

		server := newTestServer(t, st, events.NewBroker(), workflowMock, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments/a-4/cancel", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		assessment, err := st.GetAssessment(context.Background(), "a-4")
		require.NoError(t, err)
		require.Equal(t, store.StatusCancelled, assessment.Status)
		workflowMock.AssertExpectations(t)
	})

	t.Run("terminal assessment conflicts", func(t *testing.T) {
		st := memory.New()
		seedAssessment(t, st, "a-5", store.StatusCompleted)
		server := newTestServer(t, st, events.NewBroker(), &MockWorkflowService{}, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments/a-5/cancel", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("not found", func(t *testing.T) {
		server := newTestServer(t, memory.New(), events.NewBroker(), nil, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments/missing/cancel", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestSaveAnalysis(t *testing.T) {
	st := memory.New()
	seedAssessment(t, st, "a-6", store.StatusRunning)
	server := newTestServer(t, st, events.NewBroker(), nil, config.Config{})
	defer server.Close()

	body := `{"city":"Lisbon","country":"Portugal","confidence":77,"goals_met":true,"iterations":2}`
	resp, err := http.Post(server.URL+"/assessments/a-6/analyses", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	records, err := st.ListCityAnalyses(context.Background(), "a-6")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 77.0, records[0].Analysis.Confidence)
	require.Equal(t, 2, records[0].Analysis.Iterations)

	resp, err = http.Post(server.URL+"/assessments/a-6/analyses", "application/json", strings.NewReader(`{"country":"Portugal"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(server.URL+"/assessments/missing/analyses", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestEvent(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments/a-1/events", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing type", func(t *testing.T) {
		server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments/a-1/events", "application/json", strings.NewReader(`{"source":"worker"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects underscores", func(t *testing.T) {
		server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments/a-1/events", "application/json", strings.NewReader(`{"type":"city_failed"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("success", func(t *testing.T) {
		storeMock := &MockStore{}
		brokerMock := &MockBroker{}
		storeMock.On("NextSeq", mock.Anything, "a-1").Return(int64(3), nil).Once()
		storeMock.On("AppendEvent", mock.Anything, mock.MatchedBy(func(event store.Event) bool {
			return event.Type == "iteration.started" &&
				event.Seq == 3 &&
				event.TraceID == "4bf92f3577b34da6a3ce929d0e0e4736" &&
				event.Payload["city"] == "Lisbon"
		})).Return(nil).Once()
		brokerMock.On("Publish", mock.MatchedBy(func(event events.Event) bool {
			return event.AssessmentID == "a-1" && event.Seq == 3
		})).Once()

		server := newTestServer(t, storeMock, brokerMock, nil, config.Config{})
		defer server.Close()

		payload := `{"type":"Iteration.Started","source":"worker","timestamp":"2024-01-01T00:00:00Z","trace_id":"4bf92f3577b34da6a3ce929d0e0e4736","payload":{"city":"Lisbon"}}`
		resp, err := http.Post(server.URL+"/assessments/a-1/events", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		storeMock.AssertExpectations(t)
		brokerMock.AssertExpectations(t)
	})

	t.Run("default timestamp", func(t *testing.T) {
		storeMock := &MockStore{}
		brokerMock := &MockBroker{}
		storeMock.On("NextSeq", mock.Anything, "a-1").Return(int64(4), nil).Once()
		storeMock.On("AppendEvent", mock.Anything, mock.MatchedBy(func(event store.Event) bool {
			return event.Timestamp != "" && event.TraceID != "" && event.Type == "city.started" && event.Seq == 4
		})).Return(nil).Once()
		brokerMock.On("Publish", mock.Anything).Once()

		server := newTestServer(t, storeMock, brokerMock, nil, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments/a-1/events", "application/json", strings.NewReader(`{"type":"city.started","source":"worker"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		storeMock.AssertExpectations(t)
		brokerMock.AssertExpectations(t)
	})

	t.Run("store error", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("NextSeq", mock.Anything, "a-1").Return(int64(5), nil).Once()
		storeMock.On("AppendEvent", mock.Anything, mock.Anything).Return(errors.New("duplicate")).Once()

		server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/assessments/a-1/events", "application/json", strings.NewReader(`{"type":"city.started"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		storeMock.AssertExpectations(t)
	})

	t.Run("transient events skip storage", func(t *testing.T) {
		storeMock := &MockStore{}
		brokerMock := &MockBroker{}
		storeMock.On("NextSeq", mock.Anything, "a-1").Return(int64(6), nil).Once()
		brokerMock.On("Publish", mock.Anything).Once()

		server := newTestServer(t, storeMock, brokerMock, nil, config.Config{})
		defer server.Close()

		payload := `{"type":"category.perceived","source":"worker","payload":{"category":"rent","transient":true}}`
		resp, err := http.Post(server.URL+"/assessments/a-1/events", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		storeMock.AssertExpectations(t)
		brokerMock.AssertExpectations(t)
	})
}

func TestStreamEvents(t *testing.T) {
	t.Run("replays then follows until terminal", func(t *testing.T) {
		storeMock := &MockStore{}
		broker := events.NewBroker()
		storeMock.On("ListEvents", mock.Anything, "a-9", int64(2)).Return([]store.Event{
			{AssessmentID: "a-9", Seq: 3, Type: "assessment.started", Timestamp: "2024-01-01T00:00:00Z"},
		}, nil).Once()

		server := newTestServer(t, storeMock, broker, nil, config.Config{})
		defer server.Close()

		req, err := http.NewRequest(http.MethodGet, server.URL+"/assessments/a-9/events?after_seq=2", nil)
		require.NoError(t, err)

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		go func() {
			broker.Publish(events.Event{AssessmentID: "a-9", Seq: 3, Type: "assessment.started"})
			broker.Publish(events.Event{AssessmentID: "a-9", Seq: 4, Type: "city.started"})
			broker.Publish(events.Event{AssessmentID: "a-9", Seq: 5, Type: "assessment.completed"})
		}()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		text := string(body)
		require.Contains(t, text, "event: assessment_event")
		require.Equal(t, 1, strings.Count(text, "id: a-9:3\n"))
		require.Contains(t, text, "city.started")
		require.Contains(t, text, "assessment.completed")
		storeMock.AssertExpectations(t)
	})

	t.Run("terminal replay closes stream", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("ListEvents", mock.Anything, "a-8", int64(0)).Return([]store.Event{
			{AssessmentID: "a-8", Seq: 1, Type: "assessment.started"},
			{AssessmentID: "a-8", Seq: 2, Type: "assessment.failed"},
		}, nil).Once()

		server := newTestServer(t, storeMock, events.NewBroker(), nil, config.Config{})
		defer server.Close()

		resp, err := http.Get(server.URL + "/assessments/a-8/events")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), "assessment.failed")
		storeMock.AssertExpectations(t)
	})

	t.Run("heartbeat", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("ListEvents", mock.Anything, "a-7", int64(0)).Return([]store.Event{}, nil).Once()
		server := NewServer(storeMock, events.NewBroker(), nil, config.Config{})
		server.heartbeat = 5 * time.Millisecond

		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		defer cancel()
		req := httptest.NewRequest(http.MethodGet, "/assessments/a-7/events", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", "a-7")
		req = req.WithContext(context.WithValue(ctx, chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()

		server.streamEvents(w, req)

		require.Contains(t, w.Body.String(), ": keep-alive")
		storeMock.AssertExpectations(t)
	})

	t.Run("list error", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("ListEvents", mock.Anything, "a-1", int64(0)).Return(nil, errors.New("boom")).Once()

		req := httptest.NewRequest(http.MethodGet, "/assessments/a-1/events", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", "a-1")
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()

		server := NewServer(storeMock, events.NewBroker(), nil, config.Config{})
		server.streamEvents(w, req)

		require.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
		storeMock.AssertExpectations(t)
	})

	t.Run("no flusher", func(t *testing.T) {
		storeMock := &MockStore{}
		req := httptest.NewRequest(http.MethodGet, "/assessments/a-1/events", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", "a-1")
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		w := &noFlushWriter{}

		server := NewServer(storeMock, events.NewBroker(), nil, config.Config{})
		server.streamEvents(w, req)

		require.Equal(t, http.StatusInternalServerError, w.status)
	})

	t.Run("closed channel", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("ListEvents", mock.Anything, "a-1", int64(0)).Return([]store.Event{}, nil).Once()
		brokerMock := &MockBroker{}
		ch := make(chan events.Event)
		close(ch)
		brokerMock.On("Subscribe", mock.Anything, "a-1").Return(ch).Once()

		req := httptest.NewRequest(http.MethodGet, "/assessments/a-1/events", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", "a-1")
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()

		server := NewServer(storeMock, brokerMock, nil, config.Config{})
		server.streamEvents(w, req)

		storeMock.AssertExpectations(t)
		brokerMock.AssertExpectations(t)
	})
}

func TestListStrategies(t *testing.T) {
	server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{
		Categories: []agent.Category{{Name: "coworking", QueryTemplate: "coworking {city}"}},
	})
	defer server.Close()

	resp, err := http.Get(server.URL + "/strategies")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Strategies []agent.Strategy `json:"strategies"`
		Categories []agent.Category `json:"categories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Strategies, len(agent.Catalog()))
	require.Equal(t, agent.StrategyComprehensive, payload.Strategies[0].Name)
	require.Len(t, payload.Categories, 1)
	require.Equal(t, "coworking", payload.Categories[0].Name)
}

func TestCORSMiddleware(t *testing.T) {
	server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{})
	defer server.Close()

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/health", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "OPTIONS")
}

func TestShouldSuppressRequestLog(t *testing.T) {
	require.True(t, shouldSuppressRequestLog(http.MethodPost, "/assessments/a-1/events"))
	require.True(t, shouldSuppressRequestLog(http.MethodGet, "/assessments/a-1/events"))
	require.True(t, shouldSuppressRequestLog(http.MethodPost, "/assessments/a-1/analyses"))
	require.True(t, shouldSuppressRequestLog(http.MethodGet, "/assessments"))
	require.False(t, shouldSuppressRequestLog(http.MethodPost, "/assessments"))
	require.False(t, shouldSuppressRequestLog(http.MethodPost, "/assessments/a-1/cancel"))
}

func TestParseAfterSeq(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/assessments/a-1/events?after_seq=9", nil)
	require.Equal(t, int64(9), parseAfterSeq("a-1", req))

	req = httptest.NewRequest(http.MethodGet, "/assessments/a-1/events", nil)
	req.Header.Set("Last-Event-ID", "a-1:12")
	require.Equal(t, int64(12), parseAfterSeq("a-1", req))

	req = httptest.NewRequest(http.MethodGet, "/assessments/a-1/events", nil)
	req.Header.Set("Last-Event-ID", "other:12")
	require.Equal(t, int64(0), parseAfterSeq("a-1", req))

	req = httptest.NewRequest(http.MethodGet, "/assessments/a-1/events", nil)
	req.Header.Set("Last-Event-ID", "bad")
	require.Equal(t, int64(0), parseAfterSeq("a-1", req))

	req = httptest.NewRequest(http.MethodGet, "/assessments/a-1/events", nil)
	req.Header.Set("Last-Event-ID", "a-1:abc")
	require.Equal(t, int64(0), parseAfterSeq("a-1", req))

	req = httptest.NewRequest(http.MethodGet, "/assessments/a-1/events?after_seq=bad", nil)
	require.Equal(t, int64(0), parseAfterSeq("a-1", req))
}

func TestStart(t *testing.T) {
	server := NewServer(&MockStore{}, &MockBroker{}, nil, config.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	result := make(chan error, 1)
	go func() {
		result <- server.Start(ctx, addr)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err = <-result
	require.Error(t, err)
}

func TestSendSSE(t *testing.T) {
	buf := &bytes.Buffer{}
	w := bufio.NewWriter(buf)

	writer := &bufferWriter{Writer: w, header: http.Header{}}
	sendSSE(writer, events.Event{AssessmentID: "a-1", Seq: 5, Type: "assessment.started"})
	w.Flush()

	text := buf.String()
	require.Contains(t, text, "id: a-1:5")
	require.Contains(t, text, "event: assessment_event")
	require.Contains(t, text, "assessment.started")
}

type noFlushWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *noFlushWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *noFlushWriter) WriteHeader(status int) {
	w.status = status
}

func (w *noFlushWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

type bufferWriter struct {
	*bufio.Writer
	header http.Header
}

func (w *bufferWriter) Header() http.Header {
	return w.header
}

func (w *bufferWriter) WriteHeader(statusCode int) {
}
