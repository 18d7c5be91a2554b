package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Keyring-Network/keyring-atlas/internal/events"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/telemetry"
)

const controlPlaneSource = "control_plane"

// appendEvent records a control-plane event and fans it out. Failures are
// logged; the event stream is advisory for callers of these handlers.
func (s *Server) appendEvent(ctx context.Context, assessmentID string, eventType string, payload map[string]any) {
	seq, err := s.store.NextSeq(ctx, assessmentID)
	if err != nil {
		log.Warn().Err(err).Str("assessment_id", assessmentID).Str("event", eventType).Msg("event sequence unavailable")
		return
	}
	event := store.Event{
		AssessmentID: assessmentID,
		Seq:          seq,
		Type:         eventType,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Source:       controlPlaneSource,
		TraceID:      requestTraceID(ctx),
		Payload:      payload,
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("assessment_id", assessmentID).Str("event", eventType).Msg("event not stored")
	}
	s.broker.Publish(toEvent(event))
}

type ingestEventRequest struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "id")
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "event type required", http.StatusBadRequest)
		return
	}
	if strings.Contains(req.Type, "_") {
		http.Error(w, "event type must use dot notation", http.StatusBadRequest)
		return
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	seq, err := s.store.NextSeq(r.Context(), assessmentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	event := store.Event{
		AssessmentID: assessmentID,
		Seq:          seq,
		Type:         events.NormalizeType(req.Type),
		Timestamp:    timestamp,
		Source:       req.Source,
		TraceID:      strings.TrimSpace(req.TraceID),
		Payload:      req.Payload,
	}
	if event.TraceID == "" {
		event.TraceID = requestTraceID(r.Context())
	}
	if isTransientPayload(req.Payload) {
		s.broker.Publish(toEvent(event))
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.store.AppendEvent(r.Context(), event); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.broker.Publish(toEvent(event))

	w.WriteHeader(http.StatusAccepted)
}

func isTransientPayload(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	if value, ok := payload["transient"]; ok {
		if flag, ok := value.(bool); ok {
			return flag
		}
	}
	return false
}

// streamEvents replays stored events after the client's cursor, then follows
// the live feed until a terminal assessment event or disconnect.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Subscribe before replaying so nothing published in between is lost.
	eventsChan := s.broker.Subscribe(ctx, assessmentID)

	afterSeq := parseAfterSeq(assessmentID, r)
	stored, err := s.store.ListEvents(ctx, assessmentID, afterSeq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, record := range stored {
		event := toEvent(record)
		sendSSE(w, event)
		flusher.Flush()
		afterSeq = event.Seq
		if event.Terminal() {
			return
		}
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if event.Seq <= afterSeq && !isTransientPayload(event.Payload) {
				continue
			}
			sendSSE(w, event)
			flusher.Flush()
			if event.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.Event) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.AssessmentID, event.Seq)
	fmt.Fprint(w, "event: assessment_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func toEvent(event store.Event) events.Event {
	return events.Event{
		AssessmentID: event.AssessmentID,
		Seq:          event.Seq,
		Type:         events.NormalizeType(event.Type),
		Ts:           event.Timestamp,
		Source:       event.Source,
		TraceID:      event.TraceID,
		Payload:      event.Payload,
	}
}

func parseAfterSeq(assessmentID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	separator := strings.LastIndex(lastEventID, ":")
	if separator <= 0 {
		return 0
	}
	if lastEventID[:separator] != assessmentID {
		return 0
	}
	seq, err := strconv.ParseInt(lastEventID[separator+1:], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func requestTraceID(ctx context.Context) string {
	if traceID, _ := telemetry.TraceContextFrom(ctx); traceID != "" {
		return traceID
	}
	return uuid.New().String()
}
