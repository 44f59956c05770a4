package orchestrator

import (
	"fmt"
	"time"

	"github.com/dusk-indust/papercast/internal/job"
)

// EventKind names a job lifecycle transition.
type EventKind string

const (
	EventJobCreated     EventKind = "job.created"
	EventStageStarted   EventKind = "stage.started"
	EventStageCached    EventKind = "stage.cached"
	EventSegmentDone    EventKind = "segment.done"
	EventStageCompleted EventKind = "stage.completed"
	EventStageFailed    EventKind = "stage.failed"
	EventStageCancelled EventKind = "stage.cancelled"
)

// Event is emitted on every job lifecycle transition.
type Event struct {
	Kind      EventKind         `json:"kind"`
	JobID     string            `json:"jobId"`
	Stage     job.Stage         `json:"stage"`
	Segment   int               `json:"segment,omitempty"`
	Status    job.SegmentStatus `json:"status,omitempty"`
	Completed int               `json:"completed,omitempty"`
	Total     int               `json:"total,omitempty"`
	Message   string            `json:"message,omitempty"`
	Time      time.Time         `json:"time"`
}

// EventSink consumes lifecycle events. Emit must not block for long; it is
// called from the goroutine doing the work.
type EventSink interface {
	Emit(Event)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []EventSink

// Emit forwards ev to every non-nil sink.
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// ProgressReporter emits events through a buffered channel.
type ProgressReporter struct {
	ch chan Event
}

// NewProgressReporter creates a ProgressReporter with a buffered channel of size 64.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		ch: make(chan Event, 64),
	}
}

// Emit sends an event in a non-blocking fashion.
// If the channel is full, the event is silently dropped.
func (pr *ProgressReporter) Emit(ev Event) {
	select {
	case pr.ch <- ev:
	default:
	}
}

// Subscribe returns a read-only channel for consuming events.
func (pr *ProgressReporter) Subscribe() <-chan Event {
	return pr.ch
}

// Close closes the event channel.
func (pr *ProgressReporter) Close() {
	close(pr.ch)
}

// FormatEvent formats an Event as a human-readable status line.
func FormatEvent(ev Event) string {
	switch ev.Kind {
	case EventJobCreated:
		return fmt.Sprintf("  + job %s created", ev.JobID)
	case EventStageStarted:
		if ev.Total > 0 {
			return fmt.Sprintf("  ● %s (%d segments)...", ev.Stage.Label(), ev.Total)
		}
		return fmt.Sprintf("  ● %s...", ev.Stage.Label())
	case EventStageCached:
		return fmt.Sprintf("  ✓ %s (cached)", ev.Stage.Label())
	case EventSegmentDone:
		mark := "✓"
		if ev.Status != job.SegmentSuccess {
			mark = "✗"
		}
		line := fmt.Sprintf("    %s segment %d [%d/%d]", mark, ev.Segment, ev.Completed, ev.Total)
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		return line
	case EventStageCompleted:
		return fmt.Sprintf("  ✓ %s complete", ev.Stage.Label())
	case EventStageFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", ev.Stage.Label(), ev.Message)
	case EventStageCancelled:
		return fmt.Sprintf("  ○ %s cancelled", ev.Stage.Label())
	default:
		return fmt.Sprintf("  ? %s (%s)", ev.Stage.Label(), ev.Kind)
	}
}

// FormatStageHeader formats a stage header for display.
// Returns: "[{jobID}] Stage {N}: {stage.Label()}"
func FormatStageHeader(jobID string, stage job.Stage) string {
	return fmt.Sprintf("[%s] Stage %d: %s", jobID, int(stage), stage.Label())
}
