// Package workflow drives a run through its phases. The manifest on disk is
// the single source of truth; the engine here is a disposable cache that can
// be killed and rebuilt from the manifest at any point.
package workflow

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/pentra-dev/pentra/pkg/models"
)

// EventType represents the type of workflow event.
type EventType string

const (
	// EventRunStarted indicates the run loop has started or resumed a run.
	EventRunStarted EventType = "run_started"
	// EventPhaseStarted indicates a phase has started execution.
	EventPhaseStarted EventType = "phase_started"
	// EventPhaseCompleted indicates a phase completed and was persisted.
	EventPhaseCompleted EventType = "phase_completed"
	// EventPhaseBlocked indicates a phase was skipped entirely by a rule.
	EventPhaseBlocked EventType = "phase_blocked"
	// EventPhaseInvalidated indicates a previously completed phase failed
	// revalidation on resume and will be re-executed.
	EventPhaseInvalidated EventType = "phase_invalidated"
	// EventRunPaused indicates the run is paused at a phase boundary.
	EventRunPaused EventType = "run_paused"
	// EventRunResumed indicates a paused run has resumed.
	EventRunResumed EventType = "run_resumed"
	// EventWaitingConfig indicates the run is blocked on a config failure.
	EventWaitingConfig EventType = "waiting_config"
	// EventConfigUpdated indicates a corrected configuration was applied.
	EventConfigUpdated EventType = "config_updated"
	// EventRunCompleted indicates every phase finished.
	EventRunCompleted EventType = "run_completed"
	// EventRunCanceled indicates the run was canceled by the operator.
	EventRunCanceled EventType = "run_canceled"
	// EventRunFailed indicates the run stopped on an unrecoverable failure.
	EventRunFailed EventType = "run_failed"
)

// Event is emitted by the engine as the run progresses. Events exist to
// update the UI and logs; durable state lives in the manifest only.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// Phase is the related phase, if applicable.
	Phase models.Phase
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter provides a thread-safe event stream for subscribers.
// A slow subscriber loses events rather than stalling the run.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, dropping it if the buffer stays full.
func (e *EventEmitter) Emit(event Event) {
	event.Timestamp = time.Now().UTC()
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[workflow] event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// Events returns the read-only channel subscribers consume.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// DroppedCount returns how many events were dropped so far.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Close closes the event channel. Call only after Run has returned.
func (e *EventEmitter) Close() {
	close(e.events)
}
