// Package telemetry fans out engine lifecycle events to in-process
// subscribers and exposes Prometheus metrics for the experimentation core.
package telemetry

import (
	"sync"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventExperimentCreated   EventType = "experiment.created"
	EventExperimentStarted   EventType = "experiment.started"
	EventExperimentPaused    EventType = "experiment.paused"
	EventExperimentResumed   EventType = "experiment.resumed"
	EventExperimentCompleted EventType = "experiment.completed"
	EventExperimentCancelled EventType = "experiment.cancelled"
	EventVariantAssigned     EventType = "experiment.variant.assigned"
	EventRewardRecorded      EventType = "experiment.reward.recorded"
	EventWinnerDeployed      EventType = "experiment.winner.deployed"
	EventOutcomeRecorded     EventType = "outcome.recorded"
	EventPatternDiscovered   EventType = "pattern.discovered"
)

// Event describes engine telemetry that callers and dashboards can consume.
type Event struct {
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	ExperimentID   string         `json:"experimentId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up; prevents blocking assignment paths.
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, 64)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
