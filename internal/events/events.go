// Package events provides a minimal in-process publish/subscribe bus for
// batch lifecycle notifications, consumed by the SSE endpoint at
// /api/events/stream. Grounded in the teacher's internal/events EventData
// interface idiom (each event's payload type implements EventType()), with
// the Bus itself written fresh: the teacher's bus/dispatcher source was not
// present in the retrieved reference material, only its event-payload
// shapes were.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType names a kind of batch lifecycle event.
type EventType string

const (
	RunStarted        EventType = "run_started"
	PhaseStarted       EventType = "phase_started"
	PortfolioProcessed EventType = "portfolio_processed"
	RunCompleted       EventType = "run_completed"
)

// EventData is implemented by every event payload type.
type EventData interface {
	EventType() EventType
}

// RunStartedData announces a new batch run beginning.
type RunStartedData struct {
	BatchRunID string `json:"batch_run_id"`
	Source     string `json:"source"`
}

// EventType implements EventData.
func (d RunStartedData) EventType() EventType { return RunStarted }

// PhaseStartedData announces the orchestrator advancing to a new phase
// (a trading date, in this module's single-phase-dimension design).
type PhaseStartedData struct {
	BatchRunID string `json:"batch_run_id"`
	Phase      string `json:"phase"`
}

// EventType implements EventData.
func (d PhaseStartedData) EventType() EventType { return PhaseStarted }

// PortfolioProcessedData announces one portfolio's per-date job finishing.
type PortfolioProcessedData struct {
	BatchRunID  string `json:"batch_run_id"`
	PortfolioID string `json:"portfolio_id"`
	Failed      bool   `json:"failed"`
}

// EventType implements EventData.
func (d PortfolioProcessedData) EventType() EventType { return PortfolioProcessed }

// RunCompletedData announces a batch run's terminal status.
type RunCompletedData struct {
	BatchRunID string `json:"batch_run_id"`
	Status     string `json:"status"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
}

// EventType implements EventData.
func (d RunCompletedData) EventType() EventType { return RunCompleted }

// Event is one published occurrence: its type, payload, and timestamp.
type Event struct {
	Type EventType `json:"type"`
	Data EventData `json:"data"`
	At   time.Time `json:"at"`
}

// MarshalJSON flattens Data alongside Type/At for SSE consumers.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type EventType `json:"type"`
		At   time.Time `json:"at"`
		Data EventData `json:"data"`
	}
	return json.Marshal(wire{Type: e.Type, At: e.At, Data: e.Data})
}

// Bus is a fan-out publish/subscribe channel broker. Each subscriber gets
// its own buffered channel; a slow subscriber drops events rather than
// blocking the publisher, since lifecycle events are advisory only.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function the caller must call when done.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			close(existing)
			delete(b.subs, id)
		}
	}
	return ch, unsubscribe
}

// Publish fans data out to every current subscriber, stamping now as the
// event time (callers pass process time, never Date.Now-equivalents
// computed inside a workflow).
func (b *Bus) Publish(data EventData, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	evt := Event{Type: data.EventType(), Data: data, At: now}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
