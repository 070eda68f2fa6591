package queue

import (
	"sync"
	"time"

	"innervoice/internal/app/model"
	"innervoice/internal/app/progress"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventQueued    EventType = "queued"
	EventDuplicate EventType = "duplicate"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
	EventRetry     EventType = "retry_pending"
)

// Event is a sequenced payload consumed by pollers of the event log.
type Event struct {
	Seq            int64              `json:"seq"`
	Timestamp      time.Time          `json:"timestamp"`
	JobID          string             `json:"job_id,omitempty"`
	OwnerID        string             `json:"owner_id,omitempty"`
	Type           EventType          `json:"type"`
	Status         model.JobStatus    `json:"status,omitempty"`
	Message        string             `json:"message,omitempty"`
	Progress       *progress.Snapshot `json:"progress,omitempty"`
	FailedSegments []int              `json:"failed_segments,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	now       func() time.Time
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		now:       time.Now,
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
