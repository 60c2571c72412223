package data

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmorcellet/delta-downloads/internal/sink"
	"github.com/dmorcellet/delta-downloads/internal/transport"
)

const unknownSize = -1

// Task is the live record of one download. Byte counters are atomics and
// may be read from any goroutine while the transport updates them; state and
// handle changes go through the transition methods below.
type Task struct {
	id        string
	url       string
	target    string
	sink      sink.ByteSink
	createdAt time.Time

	expectedSize atomic.Int64
	doneSize     atomic.Int64

	mu         sync.RWMutex
	state      State
	handle     *transport.Future
	outcome    Outcome
	finishedAt time.Time
}

// Outcome is what the transport reported when the task left Running.
type Outcome struct {
	Status int
	Err    error
}

// NewTask creates a NotStarted task owning s. target describes the sink for
// display and persistence.
func NewTask(url, target string, s sink.ByteSink) *Task {
	t := &Task{
		id:        uuid.NewString(),
		url:       url,
		target:    target,
		sink:      s,
		createdAt: time.Now().UTC(),
	}
	t.expectedSize.Store(unknownSize)
	return t
}

func (t *Task) ID() string           { return t.id }
func (t *Task) URL() string          { return t.url }
func (t *Task) Target() string       { return t.target }
func (t *Task) Sink() sink.ByteSink  { return t.sink }
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// ExpectedSize returns the declared body length, if one was seen.
func (t *Task) ExpectedSize() (int64, bool) {
	n := t.expectedSize.Load()
	return n, n != unknownSize
}

// SetExpectedSize records a declared body length. Negative values are
// ignored, so a size once set is never cleared; a later value replaces an
// earlier one.
func (t *Task) SetExpectedSize(n int64) {
	if n < 0 {
		return
	}
	t.expectedSize.Store(n)
}

// DoneSize returns the bytes consumed by the sink so far.
func (t *Task) DoneSize() int64 { return t.doneSize.Load() }

// AddDone adds n consumed bytes and returns the new total.
func (t *Task) AddDone(n int64) int64 {
	if n <= 0 {
		return t.doneSize.Load()
	}
	return t.doneSize.Add(n)
}

func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Transition moves the task from -> to if it currently sits in from and the
// edge is legal. It reports whether the move happened.
func (t *Task) Transition(from, to State) bool {
	if !CanTransition(from, to) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return false
	}
	t.state = to
	if to.Terminal() {
		t.finishedAt = time.Now().UTC()
		t.handle = nil
	}
	return true
}

// Finish moves a running task to a terminal state and records the
// transport outcome. Only the first caller wins.
func (t *Task) Finish(to State, o Outcome) bool {
	if !to.Terminal() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return false
	}
	t.state = to
	t.outcome = o
	t.finishedAt = time.Now().UTC()
	t.handle = nil
	return true
}

// Settle re-asserts a terminal state after the fact. Re-asserting the
// current state is a no-op; a task still Running is finished; a different
// terminal state is refused, since terminal states are final.
func (t *Task) Settle(to State) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrBadState, to)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.state == to:
		return nil
	case t.state == StateRunning:
		t.state = to
		t.finishedAt = time.Now().UTC()
		t.handle = nil
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrBadState, t.state, to)
	}
}

// SetHandle stores the in-flight operation. It is ignored unless the task
// is Running, so a request that already finished leaves no handle behind.
func (t *Task) SetHandle(h *transport.Future) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRunning {
		t.handle = h
	}
}

// Handle returns the in-flight operation, nil outside Running.
func (t *Task) Handle() *transport.Future {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handle
}

// Outcome returns what the transport reported at termination.
func (t *Task) Outcome() Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.outcome
}

func (t *Task) FinishedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finishedAt
}

// Snapshot copies the task into a Download record.
func (t *Task) Snapshot() *Download {
	d := &Download{
		ID:        t.id,
		URL:       t.url,
		Target:    t.target,
		State:     t.State(),
		DoneSize:  t.DoneSize(),
		CreatedAt: t.createdAt,
		UpdatedAt: time.Now().UTC(),
	}
	if n, ok := t.ExpectedSize(); ok {
		d.ExpectedSize = &n
	}
	return d
}

func (t *Task) String() string {
	exp := "?"
	if n, ok := t.ExpectedSize(); ok {
		exp = fmt.Sprint(n)
	}
	return fmt.Sprintf("task %s [%s] %s -> %s (%d/%s)", t.id, t.State(), t.url, t.target, t.DoneSize(), exp)
}
