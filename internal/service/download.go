package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloadcfg"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
	"github.com/dmorcellet/delta-downloads/internal/fp"
	"github.com/dmorcellet/delta-downloads/internal/repo"
	"github.com/dmorcellet/delta-downloads/internal/sink"
)

type Download interface {
	List(ctx context.Context) (data.Downloads, error)
	Get(ctx context.Context, id string) (*data.Download, error)
	// Add creates and starts a download. An identical download still in
	// progress is returned instead, with created=false.
	Add(ctx context.Context, rawURL, target string) (dl *data.Download, created bool, err error)
	UpdateDesiredState(ctx context.Context, id string, st data.State) (*data.Download, error)
	Wait(ctx context.Context, id string) (downloader.Termination, error)
}

// AllowedDesiredStates are the states a client may request.
var AllowedDesiredStates = map[data.State]bool{
	data.StateCancelled: true,
}

type download struct {
	repo     repo.DownloadRepo
	reg      *downloader.Registry
	listener downloader.Listener
	policy   downloadcfg.CollisionPolicy
	log      *slog.Logger
}

// NewDownload wires the service. listener receives the updates of every
// download it starts.
func NewDownload(log *slog.Logger, repo repo.DownloadRepo, reg *downloader.Registry, listener downloader.Listener, policy downloadcfg.CollisionPolicy) Download {
	if log == nil {
		log = slog.Default()
	}
	return &download{
		repo:     repo,
		reg:      reg,
		listener: listener,
		policy:   policy,
		log:      log,
	}
}

func (ds *download) List(ctx context.Context) (data.Downloads, error) {
	list, err := ds.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, d := range list {
		list[i] = ds.overlay(d)
	}
	return list, nil
}

func (ds *download) Get(ctx context.Context, id string) (*data.Download, error) {
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ds.overlay(d), nil
}

// overlay refreshes a stored record with the live counters of its task,
// which run ahead of what the reconciler has persisted.
func (ds *download) overlay(d *data.Download) *data.Download {
	t, err := ds.reg.Task(d.ID)
	if err != nil {
		return d
	}
	live := t.Snapshot()
	if d.State.Terminal() && !live.State.Terminal() {
		return d
	}
	d.State = live.State
	d.DoneSize = live.DoneSize
	if live.ExpectedSize != nil {
		d.ExpectedSize = live.ExpectedSize
	}
	return d
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return data.ErrInvalidURL
	}
	return nil
}

func (ds *download) Add(ctx context.Context, rawURL, target string) (*data.Download, bool, error) {
	rawURL, target = strings.TrimSpace(rawURL), strings.TrimSpace(target)
	if err := ValidateURL(rawURL); err != nil {
		return nil, false, err
	}
	if target == "" {
		return nil, false, data.ErrTarget
	}

	task, err := ds.reg.NewTargetDownload(rawURL, target, ds.policy)
	if err != nil {
		if errors.Is(err, sink.ErrTarget) {
			return nil, false, fmt.Errorf("%w: %v", data.ErrTarget, err)
		}
		return nil, false, err
	}

	saved, created, err := ds.repo.AddWithFingerprint(ctx, task.Snapshot(), fp.Fingerprint(rawURL, target))
	if err != nil || !created {
		ds.reg.Forget(task.ID())
		return saved, false, err
	}

	// The download outlives the request that created it.
	if err := ds.reg.StartDownload(context.Background(), task, ds.listener); err != nil {
		ds.log.Warn("start download", "id", task.ID(), "err", err)
		if _, uerr := ds.repo.Update(ctx, task.ID(), func(d *data.Download) error {
			d.State = task.State()
			return nil
		}); uerr != nil {
			ds.log.Error("update", "id", task.ID(), "err", uerr)
		}
		return nil, false, err
	}
	ds.log.Info("download added", "id", task.ID(), "url", rawURL, "target", target)
	return ds.overlay(saved), true, nil
}

func (ds *download) UpdateDesiredState(ctx context.Context, id string, st data.State) (*data.Download, error) {
	if !AllowedDesiredStates[st] {
		return nil, data.ErrBadState
	}
	d, err := ds.repo.Update(ctx, id, func(d *data.Download) error {
		d.DesiredState = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.State.Terminal() {
		return ds.overlay(d), nil
	}

	if err := ds.reg.Cancel(id); err != nil {
		if !errors.Is(err, downloader.ErrUnknownTask) {
			return nil, err
		}
		// left over from an earlier process, nothing is running it
		return ds.repo.Update(ctx, id, func(d *data.Download) error {
			d.State = data.StateCancelled
			return nil
		})
	}
	ds.log.Info("cancellation requested", "id", id)
	return ds.overlay(d), nil
}

// Wait blocks until the download id terminates or ctx is done.
func (ds *download) Wait(ctx context.Context, id string) (downloader.Termination, error) {
	term, err := ds.reg.Wait(ctx, id)
	if err == nil {
		return term, nil
	}
	if !errors.Is(err, downloader.ErrUnknownTask) {
		return term, err
	}
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return downloader.Termination{}, err
	}
	return downloader.Termination{State: d.State}, nil
}

// Recover fails downloads a previous process left unfinished; their
// transfers died with it.
func Recover(ctx context.Context, r repo.DownloadRepo, log *slog.Logger) (int, error) {
	list, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range list {
		if d.State.Terminal() {
			continue
		}
		if _, err := r.Update(ctx, d.ID, func(d *data.Download) error {
			d.State = data.StateFailed
			return nil
		}); err != nil {
			return n, err
		}
		log.Warn("failed orphaned download", "id", d.ID, "url", d.URL)
		n++
	}
	return n, nil
}
