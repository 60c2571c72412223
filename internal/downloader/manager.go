package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/metrics"
	"github.com/dmorcellet/delta-downloads/internal/transport"
)

// Termination is the outcome reported by WaitForTermination. Errors met
// while waiting are carried here, never returned.
type Termination struct {
	State data.State
	// Status is the final HTTP status, 0 when no response was observed.
	Status int
	// Err is the suppressed wait error, nil on a clean response.
	Err error
}

// Manager runs one task: it opens the sink, issues the GET, streams the body
// into the sink and settles the task's terminal state.
type Manager struct {
	tr   transport.Transport
	task *data.Task
	log  *slog.Logger

	mu       sync.Mutex
	listener Listener
	future   *transport.Future
	// cancelPending records a Cancel that arrived while Running but before
	// Execute handed back the future.
	cancelPending bool
}

// NewManager creates a manager for task using tr to issue the request.
func NewManager(tr transport.Transport, task *data.Task) *Manager {
	return &Manager{tr: tr, task: task, log: slog.Default()}
}

// SetListener sets the listener notified of task updates. It must be set
// before Start to observe every update.
func (m *Manager) SetListener(l Listener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

// SetLogger allows wiring a shared application logger into the manager.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l != nil {
		m.log = l
	}
}

func (m *Manager) Task() *data.Task { return m.task }

// Start opens the sink and submits the request. It returns once the request
// is in flight; the outcome arrives through the listener.
func (m *Manager) Start(ctx context.Context) error {
	t := m.task
	if t.State() != data.StateNotStarted {
		return ErrAlreadyStarted
	}
	log := m.log.With("id", t.ID(), "url", t.URL())

	if err := t.Sink().Start(); err != nil {
		if t.Transition(data.StateNotStarted, data.StateFailed) {
			metrics.DownloadsFinished.WithLabelValues(stateLabel(data.StateFailed)).Inc()
		}
		log.Warn("sink start failed", "target", t.Target(), "err", err)
		return fmt.Errorf("%w: %w", ErrSinkStart, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(), nil)
	if err != nil {
		if serr := t.Sink().Terminate(); serr != nil {
			log.Warn("sink terminate", "err", serr)
		}
		if t.Transition(data.StateNotStarted, data.StateFailed) {
			metrics.DownloadsFinished.WithLabelValues(stateLabel(data.StateFailed)).Inc()
			m.notify()
		}
		log.Warn("bad request", "err", err)
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	if !t.Transition(data.StateNotStarted, data.StateRunning) {
		return ErrAlreadyStarted
	}
	metrics.ActiveDownloads.Inc()
	log.Info("download started", "target", t.Target())

	f := m.tr.Execute(req, &streamHandler{m: m, log: log})
	m.mu.Lock()
	m.future = f
	pending := m.cancelPending
	m.mu.Unlock()
	t.SetHandle(f)
	if pending {
		log.Info("applying cancel requested during start")
		f.Cancel()
	}
	return nil
}

// Cancel requests interruption of the in-flight request. It does not wait:
// the task becomes Cancelled once the transport acknowledges.
func (m *Manager) Cancel() {
	m.mu.Lock()
	f := m.future
	if f == nil && m.task.State() == data.StateRunning {
		m.cancelPending = true
	}
	m.mu.Unlock()
	if f != nil {
		f.Cancel()
	}
}

// WaitForTermination blocks until the request resolves or ctx is done. On a
// clean response the state is re-derived from the status code and
// re-asserted; a terminal state set earlier is never replaced.
func (m *Manager) WaitForTermination(ctx context.Context) Termination {
	m.mu.Lock()
	f := m.future
	m.mu.Unlock()

	if f == nil {
		st := m.task.State()
		if st == data.StateNotStarted {
			return Termination{State: st, Err: ErrNotStarted}
		}
		o := m.task.Outcome()
		return Termination{State: st, Status: o.Status, Err: o.Err}
	}

	resp, err := f.Wait(ctx)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		m.log.Warn("wait for termination", "id", m.task.ID(), "err", err)
		return Termination{State: m.task.State(), Status: status, Err: err}
	}

	derived := data.StateFailed
	if status == http.StatusOK {
		derived = data.StateOK
	}
	if serr := m.task.Settle(derived); serr != nil {
		m.log.Warn("termination state conflict", "id", m.task.ID(), "derived", derived, "err", serr)
	}
	return Termination{State: m.task.State(), Status: status}
}

// terminate moves the running task to st. Only the first caller wins; it
// closes the sink and sends the final notification.
func (m *Manager) terminate(st data.State, o data.Outcome) {
	t := m.task
	if !t.Finish(st, o) {
		m.log.Debug("ignoring late terminal callback", "id", t.ID(), "state", st, "current", t.State())
		return
	}
	metrics.ActiveDownloads.Dec()
	metrics.DownloadsFinished.WithLabelValues(stateLabel(st)).Inc()
	if err := t.Sink().Terminate(); err != nil {
		m.log.Warn("sink terminate", "id", t.ID(), "err", err)
	}
	m.log.Info("download finished", "id", t.ID(), "state", st, "status", o.Status, "done", t.DoneSize())
	m.notify()
}

func (m *Manager) notify() {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	if l != nil {
		l.TaskUpdated(m.task)
	}
}

func stateLabel(s data.State) string { return strings.ToLower(s.String()) }

// streamHandler routes transport callbacks of one request into its manager.
type streamHandler struct {
	m      *Manager
	log    *slog.Logger
	status atomic.Int64
}

func (h *streamHandler) ResponseReceived(resp *transport.Response) {
	h.status.Store(int64(resp.StatusCode))
	v := resp.Header.Get("Content-Length")
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		h.log.Debug("ignoring content length", "value", v)
	} else {
		h.m.task.SetExpectedSize(n)
	}
	h.m.notify()
}

func (h *streamHandler) BytesReceived(p []byte) error {
	t := h.m.task
	if err := t.Sink().HandleBytes(p); err != nil {
		h.log.Warn("sink write failed", "err", err)
		h.m.Cancel()
		h.m.terminate(data.StateFailed, data.Outcome{Status: h.lastStatus(), Err: ErrSinkWrite})
		return fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}
	done := t.AddDone(int64(len(p)))
	metrics.BytesReceived.Add(float64(len(p)))
	if h.log.Enabled(context.Background(), slog.LevelDebug) {
		exp, _ := t.ExpectedSize()
		h.log.Debug("chunk", "bytes", len(p), "done", done, "expected", exp)
	}
	h.m.notify()
	return nil
}

func (h *streamHandler) Completed(resp *transport.Response) {
	st := data.StateFailed
	if resp.StatusCode == http.StatusOK {
		st = data.StateOK
	}
	h.m.terminate(st, data.Outcome{Status: resp.StatusCode})
}

func (h *streamHandler) Failed(err error) {
	h.log.Warn("download failed", "err", err)
	h.m.terminate(data.StateFailed, data.Outcome{Status: h.lastStatus(), Err: err})
}

func (h *streamHandler) Cancelled() {
	h.log.Warn("download cancelled")
	h.m.terminate(data.StateCancelled, data.Outcome{Status: h.lastStatus(), Err: transport.ErrCancelled})
}

func (h *streamHandler) lastStatus() int { return int(h.status.Load()) }

