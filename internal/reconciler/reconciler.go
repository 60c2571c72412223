package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
	"github.com/dmorcellet/delta-downloads/internal/metrics"
	"github.com/dmorcellet/delta-downloads/internal/repo"
)

// Reconciler consumes downloader events and updates repository state.
type Reconciler struct {
	repo   repo.DownloadRepo
	events <-chan downloader.Event
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	onTerminal []func(id string)

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler that processes downloader events and mutates the
// repository accordingly.
func New(log *slog.Logger, repo repo.DownloadRepo, events <-chan downloader.Event) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, events: events, log: log, ctx: context.Background()}
}

// OnTerminal registers fn to run once a terminal event has been persisted,
// typically to drop in-memory bookkeeping for the download. Register before
// Run.
func (r *Reconciler) OnTerminal(fn func(id string)) {
	if fn != nil {
		r.onTerminal = append(r.onTerminal, fn)
	}
}

// Run starts the reconciliation loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	// Tag this run with a stable operation_id for easier correlation.
	r.log = r.log.With("operation_id", uuid.NewString())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				return
			case e, ok := <-r.events:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// Stop terminates the reconciliation loop.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	}
}

func (r *Reconciler) handle(e downloader.Event) {
	metrics.DownloadEvents.WithLabelValues(strings.ToLower(string(e.Type))).Inc()

	var state data.State
	switch e.Type {
	case downloader.EventStart, downloader.EventProgress:
		state = data.StateRunning
	case downloader.EventComplete:
		state = data.StateOK
	case downloader.EventFailed:
		state = data.StateFailed
	case downloader.EventCancelled:
		state = data.StateCancelled
	default:
		r.log.Warn("unknown event type", "id", e.ID, "type", e.Type)
		return
	}

	stale := false
	_, err := r.repo.Update(r.ctx, e.ID, func(dl *data.Download) error {
		if dl.State.Terminal() {
			stale = true
			return nil
		}
		dl.State = state
		if p := e.Progress; p != nil {
			if p.Completed > dl.DoneSize {
				dl.DoneSize = p.Completed
			}
			if p.Total >= 0 {
				n := p.Total
				dl.ExpectedSize = &n
			}
		}
		return nil
	})
	if err != nil {
		r.log.Error("update", "id", e.ID, "state", state, "err", err)
		if errors.Is(err, data.ErrNotFound) && e.Type.Terminal() {
			r.finished(e.ID)
		}
		return
	}
	if e.Type.Terminal() {
		r.finished(e.ID)
	}
	if stale {
		r.log.Info("ignoring event for finished download", "id", e.ID, "type", e.Type)
		return
	}
	if e.Type == downloader.EventProgress {
		if e.Progress != nil {
			r.log.Debug("progress event", "id", e.ID, "completed", e.Progress.Completed, "total", e.Progress.Total)
		}
		return
	}
	r.log.Info("reconciled event", "id", e.ID, "type", e.Type)
}

func (r *Reconciler) finished(id string) {
	for _, fn := range r.onTerminal {
		fn(id)
	}
}
