package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
)

type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string]store.Assessment
	analyses    map[string]map[string]store.CityAnalysisRecord
	events      map[string][]store.Event
	progress    map[string]map[string]store.CityProgress
	seq         map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		assessments: map[string]store.Assessment{},
		analyses:    map[string]map[string]store.CityAnalysisRecord{},
		events:      map[string][]store.Event{},
		progress:    map[string]map[string]store.CityProgress{},
		seq:         map[string]int64{},
	}
}

func (m *MemoryStore) CreateAssessment(ctx context.Context, assessment store.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if assessment.Status == "" {
		assessment.Status = store.StatusQueued
	}
	assessment.Cities = append([]agent.CityRef{}, assessment.Cities...)
	m.assessments[assessment.ID] = assessment
	return nil
}

func (m *MemoryStore) GetAssessment(ctx context.Context, id string) (*store.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	assessment, ok := m.assessments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	assessment.Cities = append([]agent.CityRef{}, assessment.Cities...)
	return &assessment, nil
}

func (m *MemoryStore) ListAssessments(ctx context.Context) ([]store.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Assessment, 0, len(m.assessments))
	for _, assessment := range m.assessments {
		assessment.Cities = append([]agent.CityRef{}, assessment.Cities...)
		results = append(results, assessment)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	return results, nil
}

func (m *MemoryStore) UpdateAssessmentStatus(ctx context.Context, id string, status string, errMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	assessment, ok := m.assessments[id]
	if !ok {
		return store.ErrNotFound
	}
	m.applyStatusLocked(&assessment, status, errMessage, time.Now().UTC().Format(time.RFC3339Nano))
	m.assessments[id] = assessment
	return nil
}

func (m *MemoryStore) applyStatusLocked(assessment *store.Assessment, status, errMessage, timestamp string) {
	if store.IsTerminal(assessment.Status) && status != assessment.Status {
		return
	}
	assessment.Status = status
	if errMessage != "" {
		assessment.Error = errMessage
	}
	assessment.UpdatedAt = timestamp
}

func (m *MemoryStore) SaveCityAnalysis(ctx context.Context, record store.CityAnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.CreatedAt == "" {
		record.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	byCity := m.analyses[record.AssessmentID]
	if byCity == nil {
		byCity = map[string]store.CityAnalysisRecord{}
		m.analyses[record.AssessmentID] = byCity
	}
	byCity[store.ProgressKey(record.City, record.Country)] = record
	return nil
}

func (m *MemoryStore) ListCityAnalyses(ctx context.Context, assessmentID string) ([]store.CityAnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byCity := m.analyses[assessmentID]
	results := make([]store.CityAnalysisRecord, 0, len(byCity))
	for _, record := range byCity {
		results = append(results, record)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].City < results[j].City
		}
		return results[i].CreatedAt < results[j].CreatedAt
	})
	return results, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = store.NormalizeEventType(event.Type)
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	m.events[event.AssessmentID] = append(m.events[event.AssessmentID], event)
	m.applyProgressLocked(event)
	if status, errMessage, ok := store.AssessmentStatusFromEvent(event); ok {
		if assessment, exists := m.assessments[event.AssessmentID]; exists {
			m.applyStatusLocked(&assessment, status, errMessage, event.Timestamp)
			m.assessments[event.AssessmentID] = assessment
		}
	}
	return nil
}

func (m *MemoryStore) applyProgressLocked(event store.Event) {
	incoming, ok := store.BuildCityProgressFromEvent(event)
	if !ok {
		return
	}
	byCity := m.progress[event.AssessmentID]
	if byCity == nil {
		byCity = map[string]store.CityProgress{}
		m.progress[event.AssessmentID] = byCity
	}
	key := store.ProgressKey(incoming.City, incoming.Country)
	byCity[key] = store.MergeCityProgress(byCity[key], incoming)
}

func (m *MemoryStore) ListEvents(ctx context.Context, assessmentID string, afterSeq int64) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[assessmentID]
	if afterSeq <= 0 {
		return append([]store.Event{}, events...), nil
	}
	filtered := []store.Event{}
	for _, event := range events {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, assessmentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[assessmentID] += 1
	return m.seq[assessmentID], nil
}

func (m *MemoryStore) ListCityProgress(ctx context.Context, assessmentID string) ([]store.CityProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byCity := m.progress[assessmentID]
	results := make([]store.CityProgress, 0, len(byCity))
	for _, progress := range byCity {
		results = append(results, progress)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].City == results[j].City {
			return results[i].Country < results[j].Country
		}
		return results[i].City < results[j].City
	})
	return results, nil
}
