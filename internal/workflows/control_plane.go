package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/telemetry"
)

const eventSource = "worker"

var marshalJSON = json.Marshal

func (a *AssessmentActivities) emitEvent(ctx context.Context, assessmentID string, eventType string, payload map[string]any) error {
	postErr := a.postEvent(ctx, assessmentID, eventType, payload)
	if postErr == nil {
		return nil
	}
	if a.store == nil {
		return postErr
	}
	return a.appendLocalEvent(ctx, assessmentID, eventType, payload)
}

func (a *AssessmentActivities) postEvent(ctx context.Context, assessmentID string, eventType string, payload map[string]any) error {
	if a.controlPlane == "" {
		return errors.New("control plane url not configured")
	}
	body, err := marshalJSON(map[string]any{
		"type":      eventType,
		"source":    eventSource,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"trace_id":  traceID(ctx),
		"payload":   payload,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/assessments/%s/events", a.controlPlane, assessmentID)
	return a.post(ctx, url, body, "event")
}

func (a *AssessmentActivities) appendLocalEvent(ctx context.Context, assessmentID string, eventType string, payload map[string]any) error {
	seq, err := a.store.NextSeq(ctx, assessmentID)
	if err != nil {
		return err
	}
	return a.store.AppendEvent(ctx, store.Event{
		AssessmentID: assessmentID,
		Seq:          seq,
		Type:         eventType,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Source:       eventSource,
		TraceID:      traceID(ctx),
		Payload:      payload,
	})
}

func (a *AssessmentActivities) saveAnalysis(ctx context.Context, assessmentID string, analysis agent.CityAnalysis) error {
	postErr := a.postAnalysis(ctx, assessmentID, analysis)
	if postErr == nil {
		return nil
	}
	if a.store == nil {
		return postErr
	}
	return a.store.SaveCityAnalysis(ctx, store.CityAnalysisRecord{
		AssessmentID: assessmentID,
		City:         analysis.City,
		Country:      analysis.Country,
		Analysis:     analysis,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *AssessmentActivities) postAnalysis(ctx context.Context, assessmentID string, analysis agent.CityAnalysis) error {
	if a.controlPlane == "" {
		return errors.New("control plane url not configured")
	}
	body, err := marshalJSON(analysis)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/assessments/%s/analyses", a.controlPlane, assessmentID)
	return a.post(ctx, url, body, "analysis")
}

func (a *AssessmentActivities) post(ctx context.Context, url string, body []byte, kind string) error {
	requestCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control plane %s failed: %s", kind, resp.Status)
	}
	return nil
}

// traceID prefers the active span's trace so events line up with traces.
func traceID(ctx context.Context) string {
	if id, _ := telemetry.TraceContextFrom(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
