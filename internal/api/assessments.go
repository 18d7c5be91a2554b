package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/workflows"
)

type createAssessmentRequest struct {
	Budget *float64        `json:"budget"`
	Cities []agent.CityRef `json:"cities"`
}

type assessmentResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Budget    float64         `json:"budget"`
	Cities    []agent.CityRef `json:"cities"`
	Error     string          `json:"error,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type cityProgressResponse struct {
	City         string  `json:"city"`
	Country      string  `json:"country"`
	Status       string  `json:"status"`
	Iteration    int     `json:"iteration"`
	Confidence   float64 `json:"confidence"`
	Completeness float64 `json:"completeness"`
	GoalsMet     bool    `json:"goals_met"`
	StartedAt    string  `json:"started_at,omitempty"`
	CompletedAt  string  `json:"completed_at,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type assessmentDetailResponse struct {
	assessmentResponse
	Analyses []agent.CityAnalysis   `json:"analyses"`
	Progress []cityProgressResponse `json:"progress"`
}

type listAssessmentsResponse struct {
	Assessments []assessmentResponse `json:"assessments"`
}

func toAssessmentResponse(assessment store.Assessment) assessmentResponse {
	cities := assessment.Cities
	if cities == nil {
		cities = []agent.CityRef{}
	}
	return assessmentResponse{
		ID:        assessment.ID,
		Status:    assessment.Status,
		Budget:    assessment.Budget,
		Cities:    cities,
		Error:     assessment.Error,
		CreatedAt: assessment.CreatedAt,
		UpdatedAt: assessment.UpdatedAt,
	}
}

func (s *Server) createAssessment(w http.ResponseWriter, r *http.Request) {
	req := createAssessmentRequest{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	budget := s.cfg.MonthlyBudget
	if req.Budget != nil {
		budget = *req.Budget
	}
	if budget < 0 {
		http.Error(w, "budget must not be negative", http.StatusBadRequest)
		return
	}
	cities := req.Cities
	if len(cities) == 0 {
		cities = s.cfg.Cities
	}
	cities, err := normalizeCities(cities)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	assessment := store.Assessment{
		ID:        uuid.New().String(),
		Status:    store.StatusQueued,
		Budget:    budget,
		Cities:    cities,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAssessment(r.Context(), assessment); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.appendEvent(r.Context(), assessment.ID, "assessment.created", map[string]any{
		"budget": budget,
		"cities": len(cities),
	})

	if s.workflows != nil {
		err := s.workflows.StartAssessment(r.Context(), workflows.AssessmentInput{
			AssessmentID: assessment.ID,
			Budget:       budget,
			Cities:       cities,
		})
		if err != nil {
			log.Error().Err(err).Str("assessment_id", assessment.ID).Msg("failed to start assessment workflow")
			s.appendEvent(r.Context(), assessment.ID, "assessment.failed", map[string]any{
				"error": "workflow start failed: " + err.Error(),
			})
			http.Error(w, "failed to start assessment", http.StatusBadGateway)
			return
		}
	}

	writeJSONStatus(w, map[string]any{
		"assessment_id": assessment.ID,
		"status":        assessment.Status,
	}, http.StatusCreated)
}

func normalizeCities(cities []agent.CityRef) ([]agent.CityRef, error) {
	if len(cities) == 0 {
		return nil, errors.New("at least one city required")
	}
	normalized := make([]agent.CityRef, 0, len(cities))
	seen := map[string]struct{}{}
	for _, city := range cities {
		city.City = strings.TrimSpace(city.City)
		city.Country = strings.TrimSpace(city.Country)
		if city.City == "" {
			return nil, errors.New("city name required")
		}
		key := store.ProgressKey(city.City, city.Country)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, city)
	}
	return normalized, nil
}

func (s *Server) listAssessments(w http.ResponseWriter, r *http.Request) {
	assessments, err := s.store.ListAssessments(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := listAssessmentsResponse{Assessments: make([]assessmentResponse, 0, len(assessments))}
	for _, assessment := range assessments {
		response.Assessments = append(response.Assessments, toAssessmentResponse(assessment))
	}
	writeJSON(w, response)
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "id")
	assessment, ok := s.loadAssessment(w, r, assessmentID)
	if !ok {
		return
	}
	records, err := s.store.ListCityAnalyses(r.Context(), assessmentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	progress, err := s.store.ListCityProgress(r.Context(), assessmentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := assessmentDetailResponse{
		assessmentResponse: toAssessmentResponse(*assessment),
		Analyses:           make([]agent.CityAnalysis, 0, len(records)),
		Progress:           make([]cityProgressResponse, 0, len(progress)),
	}
	for _, record := range records {
		response.Analyses = append(response.Analyses, record.Analysis)
	}
	for _, entry := range progress {
		response.Progress = append(response.Progress, cityProgressResponse{
			City:         entry.City,
			Country:      entry.Country,
			Status:       entry.Status,
			Iteration:    entry.Iteration,
			Confidence:   entry.Confidence,
			Completeness: entry.Completeness,
			GoalsMet:     entry.GoalsMet,
			StartedAt:    entry.StartedAt,
			CompletedAt:  entry.CompletedAt,
			Error:        entry.Error,
		})
	}
	writeJSON(w, response)
}

func (s *Server) cancelAssessment(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "id")
	assessment, ok := s.loadAssessment(w, r, assessmentID)
	if !ok {
		return
	}
	if store.IsTerminal(assessment.Status) {
		http.Error(w, "assessment already "+assessment.Status, http.StatusConflict)
		return
	}
	if s.workflows != nil {
		if err := s.workflows.CancelAssessment(r.Context(), assessmentID); err != nil {
			log.Warn().Err(err).Str("assessment_id", assessmentID).Msg("workflow cancel failed")
		}
	}
	s.appendEvent(r.Context(), assessmentID, "assessment.cancelled", map[string]any{
		"reason": "user_requested",
	})
	w.WriteHeader(http.StatusAccepted)
}

// saveAnalysis accepts a finished city analysis from a worker.
func (s *Server) saveAnalysis(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "id")
	var analysis agent.CityAnalysis
	if err := json.NewDecoder(r.Body).Decode(&analysis); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(analysis.City) == "" {
		http.Error(w, "city required", http.StatusBadRequest)
		return
	}
	if _, ok := s.loadAssessment(w, r, assessmentID); !ok {
		return
	}
	err := s.store.SaveCityAnalysis(r.Context(), store.CityAnalysisRecord{
		AssessmentID: assessmentID,
		City:         analysis.City,
		Country:      analysis.Country,
		Analysis:     analysis,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) loadAssessment(w http.ResponseWriter, r *http.Request, assessmentID string) (*store.Assessment, bool) {
	if strings.TrimSpace(assessmentID) == "" {
		http.Error(w, "assessment id required", http.StatusBadRequest)
		return nil, false
	}
	assessment, err := s.store.GetAssessment(r.Context(), assessmentID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "assessment not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return assessment, true
}

func (s *Server) listStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"strategies": agent.Catalog(),
		"categories": s.categories(),
	})
}

func (s *Server) categories() []agent.Category {
	if len(s.cfg.Categories) > 0 {
		return s.cfg.Categories
	}
	return agent.DefaultCategories()
}
