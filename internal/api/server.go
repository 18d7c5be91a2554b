package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Keyring-Network/keyring-atlas/internal/config"
	"github.com/Keyring-Network/keyring-atlas/internal/events"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/telemetry"
	"github.com/Keyring-Network/keyring-atlas/internal/workflows"
)

const heartbeatInterval = 15 * time.Second

type Server struct {
	store     store.Store
	broker    Broker
	workflows WorkflowService
	cfg       config.Config
	heartbeat time.Duration
}

type Broker interface {
	Publish(event events.Event)
	Subscribe(ctx context.Context, assessmentID string) <-chan events.Event
}

type WorkflowService interface {
	StartAssessment(ctx context.Context, input workflows.AssessmentInput) error
	CancelAssessment(ctx context.Context, assessmentID string) error
}

// NewServer wires the API. workflows may be nil, in which case assessments
// stay queued until something else picks them up.
func NewServer(store store.Store, broker Broker, workflows WorkflowService, cfg config.Config) *Server {
	return &Server{
		store:     store,
		broker:    broker,
		workflows: workflows,
		cfg:       cfg,
		heartbeat: heartbeatInterval,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(telemetry.Middleware())

	r.Post("/assessments", s.createAssessment)
	r.Get("/assessments", s.listAssessments)
	r.Get("/assessments/{id}", s.getAssessment)
	r.Post("/assessments/{id}/cancel", s.cancelAssessment)
	r.Post("/assessments/{id}/analyses", s.saveAnalysis)
	r.Post("/assessments/{id}/events", s.ingestEvent)
	r.Get("/assessments/{id}/events", s.streamEvents)
	r.Get("/strategies", s.listStrategies)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

// Worker traffic and polling would drown out everything else.
func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if strings.HasSuffix(cleanPath, "/events") && (method == http.MethodPost || method == http.MethodGet) {
		return true
	}
	if method == http.MethodPost && strings.HasSuffix(cleanPath, "/analyses") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/assessments" || cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListAssessments(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.workflows == nil {
		subsystems["workflows"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["workflows"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server.ListenAndServe()
}
