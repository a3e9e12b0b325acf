package events

import (
	"log/slog"
	"sync"

	"github.com/skypro1111/dualscribe/internal/transcript"
)

// Event types delivered to subscribers
const (
	TypeTranscriptionUpdate  = "transcription-update"
	TypeRetranscribeProgress = "retranscribe-progress"
)

// Event is the envelope sent to every subscriber
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload"`
}

// Update carries newly recognized segments from one capture stream
type Update struct {
	SessionID string               `json:"session_id"`
	Segments  []transcript.Segment `json:"segments"`
	IsFinal   bool                 `json:"is_final"`
	Source    transcript.Source    `json:"source,omitempty"`
}

// Progress reports the state of a reconciliation run
type Progress struct {
	SessionID      string `json:"session_id"`
	TotalItems     int    `json:"total_items"`
	CompletedItems int    `json:"completed_items"`
	CurrentItem    string `json:"current_item"`
	IsComplete     bool   `json:"is_complete,omitempty"`
}

// Subscriber receives events from a Hub
type Subscriber struct {
	C         chan Event
	sessionID string // Empty receives every session
	done      chan struct{}
}

// Done is closed when the subscriber is removed from the hub
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// HubStats represents hub statistics
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Hub fans events out to subscribers. Delivery is best effort: a subscriber
// whose buffer is full misses the event rather than stalling the publisher.
type Hub struct {
	subscribers map[*Subscriber]struct{}
	bufferSize  int
	logger      *slog.Logger

	published uint64
	delivered uint64
	dropped   uint64

	mu sync.RWMutex
}

// NewHub creates a hub whose subscribers buffer bufferSize events
func NewHub(logger *slog.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a subscriber. A non-empty sessionID limits delivery
// to that session's events.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		C:         make(chan Event, h.bufferSize),
		sessionID: sessionID,
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber. Calling it twice is safe.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.done)
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish delivers an event to every matching subscriber without blocking
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.published++
	for sub := range h.subscribers {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		select {
		case sub.C <- event:
			h.delivered++
		default:
			h.dropped++
			h.logger.Debug("Dropped event for slow subscriber",
				slog.String("type", event.Type),
				slog.String("session_id", event.SessionID))
		}
	}
}

// PublishUpdate publishes a transcription update
func (h *Hub) PublishUpdate(update Update) {
	h.Publish(Event{Type: TypeTranscriptionUpdate, SessionID: update.SessionID, Payload: update})
}

// PublishProgress publishes a reconciliation progress report
func (h *Hub) PublishProgress(progress Progress) {
	h.Publish(Event{Type: TypeRetranscribeProgress, SessionID: progress.SessionID, Payload: progress})
}

// Stats returns current hub statistics
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HubStats{
		Subscribers: len(h.subscribers),
		Published:   h.published,
		Delivered:   h.delivered,
		Dropped:     h.dropped,
	}
}
