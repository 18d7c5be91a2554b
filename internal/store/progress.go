package store

import (
	"strings"
)

// BuildCityProgressFromEvent derives a progress update from an assessment
// event. Events that do not concern a single city return false.
func BuildCityProgressFromEvent(event Event) (CityProgress, bool) {
	city := firstString(event.Payload, "city")
	if city == "" {
		return CityProgress{}, false
	}
	progress := CityProgress{
		AssessmentID: event.AssessmentID,
		City:         city,
		Country:      firstString(event.Payload, "country"),
		Seq:          event.Seq,
	}
	switch normalizeEventType(event.Type) {
	case "city.started":
		progress.Status = StatusRunning
		progress.StartedAt = event.Timestamp
	case "iteration.started":
		progress.Status = StatusRunning
		progress.Iteration = firstInt(event.Payload, "iteration")
	case "reflection.completed":
		progress.Status = StatusRunning
		progress.Iteration = firstInt(event.Payload, "iteration")
		progress.Confidence = firstFloat(event.Payload, "confidence")
		progress.Completeness = firstFloat(event.Payload, "completeness")
		progress.GoalsMet = firstBool(event.Payload, "goals_met")
	case "agent.completed":
		progress.Status = StatusCompleted
		if !firstBool(event.Payload, "goals_met") {
			progress.Status = StatusPartial
		}
		progress.Iteration = firstInt(event.Payload, "iterations")
		progress.Confidence = firstFloat(event.Payload, "confidence")
		progress.Completeness = firstFloat(event.Payload, "completeness")
		progress.GoalsMet = firstBool(event.Payload, "goals_met")
		progress.CompletedAt = event.Timestamp
	case "city.failed":
		progress.Status = StatusFailed
		progress.CompletedAt = event.Timestamp
		progress.Error = firstString(event.Payload, "error")
	default:
		return CityProgress{}, false
	}
	return progress, true
}

// MergeCityProgress folds an incoming update into the existing record. A
// finished city keeps its terminal status.
func MergeCityProgress(existing CityProgress, incoming CityProgress) CityProgress {
	merged := existing

	if merged.AssessmentID == "" {
		merged.AssessmentID = incoming.AssessmentID
	}
	if merged.City == "" {
		merged.City = incoming.City
	}
	if merged.Country == "" {
		merged.Country = incoming.Country
	}
	if incoming.Status != "" && !IsTerminal(merged.Status) {
		merged.Status = incoming.Status
	}
	if incoming.Iteration > merged.Iteration {
		merged.Iteration = incoming.Iteration
	}
	if incoming.Confidence > 0 || incoming.Completeness > 0 || incoming.GoalsMet {
		merged.Confidence = incoming.Confidence
		merged.Completeness = incoming.Completeness
		merged.GoalsMet = incoming.GoalsMet
	}
	if incoming.Seq > merged.Seq {
		merged.Seq = incoming.Seq
	}
	if merged.StartedAt == "" && incoming.StartedAt != "" {
		merged.StartedAt = incoming.StartedAt
	}
	if incoming.CompletedAt != "" {
		merged.CompletedAt = incoming.CompletedAt
	}
	if incoming.Error != "" {
		merged.Error = incoming.Error
	}
	if merged.Status == "" {
		merged.Status = StatusRunning
	}
	return merged
}

// AssessmentStatusFromEvent maps lifecycle events to the assessment status
// they imply.
func AssessmentStatusFromEvent(event Event) (status string, errMessage string, ok bool) {
	switch normalizeEventType(event.Type) {
	case "assessment.started":
		return StatusRunning, "", true
	case "assessment.completed":
		return StatusCompleted, "", true
	case "assessment.partial":
		return StatusPartial, firstString(event.Payload, "error"), true
	case "assessment.failed":
		return StatusFailed, firstString(event.Payload, "error"), true
	case "assessment.cancelled":
		return StatusCancelled, "", true
	default:
		return "", "", false
	}
}

// ProgressKey identifies a city within an assessment.
func ProgressKey(city, country string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "|" + strings.ToLower(strings.TrimSpace(country))
}

func normalizeEventType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		return ""
	}
	return strings.ReplaceAll(normalized, "_", ".")
}

// NormalizeEventType lowercases and dots an event type.
func NormalizeEventType(eventType string) string {
	return normalizeEventType(eventType)
}

func firstString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(typed); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func firstInt(payload map[string]any, keys ...string) int {
	if payload == nil {
		return 0
	}
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case int:
			return typed
		case int64:
			return int(typed)
		case float64:
			return int(typed)
		}
	}
	return 0
}

func firstFloat(payload map[string]any, keys ...string) float64 {
	if payload == nil {
		return 0
	}
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case float64:
			return typed
		case int:
			return float64(typed)
		case int64:
			return float64(typed)
		}
	}
	return 0
}

func firstBool(payload map[string]any, keys ...string) bool {
	if payload == nil {
		return false
	}
	for _, key := range keys {
		if value, ok := payload[key].(bool); ok {
			return value
		}
	}
	return false
}
