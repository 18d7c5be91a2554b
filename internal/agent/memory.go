package agent

import "sort"

// Attempt is one strategy outcome for one category.
type Attempt struct {
	Strategy   StrategyName `json:"strategy"`
	Category   string       `json:"category"`
	Success    bool         `json:"success"`
	Confidence int          `json:"confidence"`
	Iteration  int          `json:"iteration"`
}

// AgentError is a recovered failure recorded against an iteration.
type AgentError struct {
	Iteration int    `json:"iteration"`
	Category  string `json:"category,omitempty"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
}

// Memory is the per-city learning record. It is owned by a single run and
// never shared between cities.
type Memory struct {
	attempts []Attempt
	errors   []AgentError
	// failed maps category -> strategy -> iteration of the most recent failure.
	failed    map[string]map[StrategyName]int
	succeeded map[string]map[StrategyName]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		failed:    map[string]map[StrategyName]int{},
		succeeded: map[string]map[StrategyName]struct{}{},
	}
}

// Record logs an outcome and updates the per-category success or failure set.
// Both sets only grow; a name present in both is treated as failed by the selector.
func (m *Memory) Record(category string, strategy StrategyName, success bool, confidence int, iteration int) {
	m.attempts = append(m.attempts, Attempt{
		Strategy:   strategy,
		Category:   category,
		Success:    success,
		Confidence: confidence,
		Iteration:  iteration,
	})
	if success {
		if m.succeeded[category] == nil {
			m.succeeded[category] = map[StrategyName]struct{}{}
		}
		m.succeeded[category][strategy] = struct{}{}
		return
	}
	if m.failed[category] == nil {
		m.failed[category] = map[StrategyName]int{}
	}
	m.failed[category][strategy] = iteration
}

func (m *Memory) RecordError(err AgentError) {
	m.errors = append(m.errors, err)
}

func (m *Memory) HasFailed(category string, strategy StrategyName) bool {
	_, ok := m.failed[category][strategy]
	return ok
}

func (m *Memory) HasSucceeded(category string, strategy StrategyName) bool {
	_, ok := m.succeeded[category][strategy]
	return ok
}

// FailedStrategies returns the failed set for a category, sorted by name.
func (m *Memory) FailedStrategies(category string) []StrategyName {
	return sortedNames(m.failed[category])
}

// SuccessfulStrategies returns the successful set for a category, sorted by name.
func (m *Memory) SuccessfulStrategies(category string) []StrategyName {
	names := make([]StrategyName, 0, len(m.succeeded[category]))
	for name := range m.succeeded[category] {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ClearFailuresBefore drops failure entries recorded in iterations earlier than
// the given one. Failures from that iteration and later stay in force.
func (m *Memory) ClearFailuresBefore(iteration int) int {
	cleared := 0
	for category, entries := range m.failed {
		for name, failedAt := range entries {
			if failedAt < iteration {
				delete(entries, name)
				cleared++
			}
		}
		if len(entries) == 0 {
			delete(m.failed, category)
		}
	}
	return cleared
}

func (m *Memory) Attempts() []Attempt {
	return append([]Attempt(nil), m.attempts...)
}

func (m *Memory) Errors() []AgentError {
	return append([]AgentError(nil), m.errors...)
}

func sortedNames(set map[StrategyName]int) []StrategyName {
	names := make([]StrategyName, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
