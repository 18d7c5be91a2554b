package events

import (
	"context"
	"strings"
	"sync"
)

const subscriberBuffer = 16

// Event is the wire form of an assessment event as streamed to clients.
type Event struct {
	AssessmentID string         `json:"assessment_id"`
	Seq          int64          `json:"seq"`
	Type         string         `json:"type"`
	Ts           string         `json:"ts"`
	Source       string         `json:"source"`
	TraceID      string         `json:"trace_id,omitempty"`
	Payload      map[string]any `json:"payload"`
}

// Terminal reports whether the event ends its assessment's stream.
func (e Event) Terminal() bool {
	switch NormalizeType(e.Type) {
	case "assessment.completed", "assessment.partial", "assessment.failed", "assessment.cancelled":
		return true
	default:
		return false
	}
}

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

func NormalizeType(eventType string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(eventType)), "_", ".")
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan Event]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, assessmentID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subscribers[assessmentID] == nil {
		b.subscribers[assessmentID] = map[chan Event]struct{}{}
	}
	b.subscribers[assessmentID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[assessmentID] != nil {
			delete(b.subscribers[assessmentID], ch)
			if len(b.subscribers[assessmentID]) == 0 {
				delete(b.subscribers, assessmentID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out without blocking. A subscriber whose buffer is
// full misses the event and catches up from the store on reconnect.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.AssessmentID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Broker) SubscriberCount(assessmentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[assessmentID])
}
