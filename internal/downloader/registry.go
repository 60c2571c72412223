package downloader

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloadcfg"
	"github.com/dmorcellet/delta-downloads/internal/sink"
	"github.com/dmorcellet/delta-downloads/internal/transport"
)

// Registry creates tasks and keeps one Manager per task, sharing a single
// transport between them. Every download stays independent: the registry
// does no queuing or scheduling.
type Registry struct {
	tr  transport.Transport
	log *slog.Logger

	mu       sync.RWMutex
	managers map[string]*Manager
}

func NewRegistry(tr transport.Transport) *Registry {
	return &Registry{tr: tr, log: slog.Default(), managers: make(map[string]*Manager)}
}

// SetLogger allows wiring a shared application logger into the registry and
// the managers it creates from then on.
func (r *Registry) SetLogger(l *slog.Logger) {
	if l != nil {
		r.log = l
	}
}

// NewFileDownload creates a task writing url to the local file path.
func (r *Registry) NewFileDownload(url, path string, policy downloadcfg.CollisionPolicy) *data.Task {
	fs := sink.NewFileSink(path, policy)
	fs.SetLogger(r.log)
	return r.NewDownload(url, path, fs)
}

// NewTargetDownload creates a task for a target resolved by sink.Open.
func (r *Registry) NewTargetDownload(url, target string, policy downloadcfg.CollisionPolicy) (*data.Task, error) {
	s, err := sink.Open(target, policy)
	if err != nil {
		return nil, err
	}
	return r.NewDownload(url, target, s), nil
}

// NewDownload creates a task streaming url into s and registers its manager.
func (r *Registry) NewDownload(url, target string, s sink.ByteSink) *data.Task {
	t := data.NewTask(url, target, s)
	m := NewManager(r.tr, t)
	m.SetLogger(r.log)
	r.mu.Lock()
	r.managers[t.ID()] = m
	r.mu.Unlock()
	return t
}

func (r *Registry) manager(id string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[id]
	if !ok {
		return nil, ErrUnknownTask
	}
	return m, nil
}

// StartDownload starts task with l as its listener.
func (r *Registry) StartDownload(ctx context.Context, task *data.Task, l Listener) error {
	m, err := r.manager(task.ID())
	if err != nil {
		return err
	}
	m.SetListener(l)
	return m.Start(ctx)
}

// WaitForTaskTermination waits for task to resolve. Unknown tasks report
// ErrUnknownTask in the result.
func (r *Registry) WaitForTaskTermination(ctx context.Context, task *data.Task) Termination {
	m, err := r.manager(task.ID())
	if err != nil {
		return Termination{State: task.State(), Err: err}
	}
	return m.WaitForTermination(ctx)
}

// Wait is WaitForTaskTermination by id.
func (r *Registry) Wait(ctx context.Context, id string) (Termination, error) {
	m, err := r.manager(id)
	if err != nil {
		return Termination{}, err
	}
	return m.WaitForTermination(ctx), nil
}

// Cancel requests cancellation of the download id.
func (r *Registry) Cancel(id string) error {
	m, err := r.manager(id)
	if err != nil {
		return err
	}
	m.Cancel()
	return nil
}

// Task returns the task registered under id.
func (r *Registry) Task(id string) (*data.Task, error) {
	m, err := r.manager(id)
	if err != nil {
		return nil, err
	}
	return m.Task(), nil
}

// Forget drops a task that is not running. Running tasks are kept.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[id]; ok && m.Task().State() != data.StateRunning {
		delete(r.managers, id)
	}
}

// Active counts the tasks currently running.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.managers {
		if m.Task().State() == data.StateRunning {
			n++
		}
	}
	return n
}

// CancelAll cancels every running download and waits, bounded by ctx, for
// each to terminate so its sink is closed. It returns the downloads that
// were still running when ctx ended.
func (r *Registry) CancelAll(ctx context.Context) int {
	r.mu.RLock()
	var running []*Manager
	for _, m := range r.managers {
		if m.Task().State() == data.StateRunning {
			running = append(running, m)
		}
	}
	r.mu.RUnlock()

	for _, m := range running {
		m.Cancel()
	}
	left := 0
	for _, m := range running {
		if term := m.WaitForTermination(ctx); !term.State.Terminal() {
			r.log.Warn("download did not stop", "id", m.Task().ID(), "err", term.Err)
			left++
		}
	}
	return left
}
