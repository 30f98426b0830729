package supervisor

import (
	"log"
	"sync/atomic"
	"time"
)

// EventEmitter delivers supervisor events to one subscriber over a
// buffered channel. A slow subscriber loses events rather than stalling
// the engine's output pipes.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	wait         time.Duration
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		wait:   100 * time.Millisecond,
	}
}

// Emit sends an event, waiting briefly for room before dropping it.
// A nil emitter discards everything.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(e.wait):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[supervisor] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Emit must not be called afterwards.
func (e *EventEmitter) Close() {
	close(e.events)
}
