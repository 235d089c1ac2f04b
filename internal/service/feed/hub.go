package feed

import (
	"sync"
	"time"

	"github.com/zhouzirui/hangout/backend/internal/observability"
)

// Event types published for a session.
const (
	EventMessage     = "message"
	EventParticipant = "participant"
	EventPlan        = "plan"
	EventFinalized   = "finalized"
	EventError       = "error"
)

const defaultBuffer = 32

// Event is one state change pushed to live subscribers.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans session events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	metrics *observability.Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  defaultBuffer,
		metrics: metrics,
	}
}

// Subscription receives events for one session until closed.
type Subscription struct {
	hub       *Hub
	sessionID string
	events    chan Event
	once      sync.Once
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Subscribe registers a listener for sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		events:    make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers an event to every subscriber of sessionID.
func (h *Hub) Publish(sessionID, eventType string, data any) {
	if h == nil {
		return
	}
	evt := Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[sessionID] {
		select {
		case sub.events <- evt:
		default:
			if h.metrics != nil {
				h.metrics.FeedDropped.Inc()
			}
		}
	}
}

// Subscribers reports how many listeners sessionID has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	close(sub.events)
}
