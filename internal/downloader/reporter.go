package downloader

import (
	"sync"
	"sync/atomic"

	"github.com/dmorcellet/delta-downloads/internal/data"
)

// Reporter publishes downloader events.
type Reporter interface {
	Report(Event)
}

// ChanReporter writes events to a channel. Progress events are dropped when
// the channel is full; the terminal event carries the final counters. Other
// events block until they are consumed or the reporter is closed.
type ChanReporter struct {
	ch      chan<- Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func NewChanReporter(ch chan<- Event) *ChanReporter {
	return &ChanReporter{ch: ch, done: make(chan struct{})}
}

func (r *ChanReporter) Report(e Event) {
	if r == nil {
		return
	}
	if e.Type == EventProgress {
		select {
		case r.ch <- e:
		default:
			r.dropped.Add(1)
		}
		return
	}
	select {
	case r.ch <- e:
	case <-r.done:
		r.dropped.Add(1)
	}
}

// Close releases senders blocked on a consumer that has gone away. Events
// reported afterwards are only delivered if the channel has room.
func (r *ChanReporter) Close() {
	r.once.Do(func() { close(r.done) })
}

// Dropped counts the events that were not delivered.
func (r *ChanReporter) Dropped() int64 { return r.dropped.Load() }

// MultiReporter sends each event to every reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}

// ReportingListener turns task updates into events. A task's first update
// is preceded by a Start event; only the first terminal update is reported.
type ReportingListener struct {
	r Reporter

	mu       sync.Mutex
	started  map[string]bool
	finished map[string]bool
}

func NewReportingListener(r Reporter) *ReportingListener {
	return &ReportingListener{r: r, started: make(map[string]bool), finished: make(map[string]bool)}
}

func (l *ReportingListener) TaskUpdated(t *data.Task) {
	e := EventFor(t)
	l.mu.Lock()
	if l.finished[e.ID] {
		l.mu.Unlock()
		return
	}
	first := !l.started[e.ID]
	l.started[e.ID] = true
	if e.Type.Terminal() {
		l.finished[e.ID] = true
	}
	l.mu.Unlock()

	if first && !e.Type.Terminal() {
		s := e
		s.Type = EventStart
		s.State = data.StateRunning
		s.Progress = nil
		l.r.Report(s)
	}
	l.r.Report(e)
}

// Forget drops the bookkeeping kept for id.
func (l *ReportingListener) Forget(id string) {
	l.mu.Lock()
	delete(l.started, id)
	delete(l.finished, id)
	l.mu.Unlock()
}
