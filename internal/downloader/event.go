package downloader

import (
	"time"

	"github.com/dmorcellet/delta-downloads/internal/data"
)

// Event is a state change or progress update of one download.
//
// Terminal events (Complete, Failed, Cancelled) make the reconciler persist
// the final state; Progress events carry the byte counters.
type Event struct {
	ID       string     `json:"id"`
	Type     EventType  `json:"type"`
	State    data.State `json:"state"`
	Progress *Progress  `json:"progress,omitempty"`
	At       time.Time  `json:"at"`
}

// EventType defines the set of events a download may emit.
type EventType string

const (
	EventStart     EventType = "Start"
	EventProgress  EventType = "Progress"
	EventComplete  EventType = "Complete"
	EventFailed    EventType = "Failed"
	EventCancelled EventType = "Cancelled"
)

// Progress carries the byte counters of a download.
type Progress struct {
	Completed int64 `json:"completed"`
	// Total is -1 when the server declared no length.
	Total int64 `json:"total"`
}

// Terminal reports whether the event ends the download.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventFailed || t == EventCancelled
}

// EventFor builds the event describing t's current position.
func EventFor(t *data.Task) Event {
	st := t.State()
	e := Event{ID: t.ID(), State: st, At: time.Now().UTC()}
	switch st {
	case data.StateOK:
		e.Type = EventComplete
	case data.StateFailed:
		e.Type = EventFailed
	case data.StateCancelled:
		e.Type = EventCancelled
	default:
		e.Type = EventProgress
	}
	total, ok := t.ExpectedSize()
	if !ok {
		total = -1
	}
	e.Progress = &Progress{Completed: t.DoneSize(), Total: total}
	return e
}
