package queue

import (
	"testing"
	"time"
)

func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(3)
	bus.Publish(Event{Type: EventQueued, Message: "1"})
	bus.Publish(Event{Type: EventStarted, Message: "2"})
	bus.Publish(Event{Type: EventCompleted, Message: "3"})

	events := bus.Since(1)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", events)
	}
}

func TestEventBusCapsHistory(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	events := bus.Since(0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Message != "2" || events[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if bus.LastSeq() != 3 {
		t.Fatalf("LastSeq = %d, want 3", bus.LastSeq())
	}
}

func TestEventBusTimestamps(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bus := NewEventBus(0)
	bus.now = func() time.Time { return fixed }

	got := bus.Publish(Event{Type: EventQueued})
	if !got.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, fixed)
	}

	preset := fixed.Add(-time.Hour)
	got = bus.Publish(Event{Type: EventQueued, Timestamp: preset})
	if !got.Timestamp.Equal(preset) {
		t.Fatalf("preset timestamp overwritten: %v", got.Timestamp)
	}
	if len(bus.Since(bus.LastSeq())) != 0 {
		t.Fatal("Since(LastSeq) should be empty")
	}
}
