package reconciler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
	"github.com/dmorcellet/delta-downloads/internal/repo"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// TestHandle ensures progress events persist sizes, terminal events persist
// the final state and later events for a finished download are ignored.
func TestHandle(t *testing.T) {
	rpo := repo.NewInMemoryDownloadRepo()
	dl, err := rpo.Add(context.Background(), &data.Download{URL: "http://h/f", Target: "/t/f", State: data.StateNotStarted})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	r := New(quiet(), rpo, nil)

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventStart})
	got, _ := rpo.Get(context.Background(), dl.ID)
	if got.State != data.StateRunning {
		t.Fatalf("start state = %v", got.State)
	}

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventProgress, Progress: &downloader.Progress{Completed: 10, Total: 100}})
	got, _ = rpo.Get(context.Background(), dl.ID)
	if got.DoneSize != 10 || got.ExpectedSize == nil || *got.ExpectedSize != 100 {
		t.Fatalf("progress not persisted: %+v", got)
	}

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventProgress, Progress: &downloader.Progress{Completed: 5, Total: -1}})
	got, _ = rpo.Get(context.Background(), dl.ID)
	if got.DoneSize != 10 || got.ExpectedSize == nil {
		t.Fatalf("sizes went backwards: %+v", got)
	}

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventComplete, Progress: &downloader.Progress{Completed: 100, Total: 100}})
	got, _ = rpo.Get(context.Background(), dl.ID)
	if got.State != data.StateOK || got.DoneSize != 100 {
		t.Fatalf("complete = %+v", got)
	}

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventFailed})
	got, _ = rpo.Get(context.Background(), dl.ID)
	if got.State != data.StateOK {
		t.Fatalf("terminal state overwritten: %v", got.State)
	}
}

func TestRunConsumesChannel(t *testing.T) {
	rpo := repo.NewInMemoryDownloadRepo()
	dl, _ := rpo.Add(context.Background(), &data.Download{URL: "http://h/f", Target: "/t/f", State: data.StateRunning})
	ch := make(chan downloader.Event, 1)
	r := New(quiet(), rpo, ch)
	r.Run()
	defer r.Stop()

	ch <- downloader.Event{ID: dl.ID, Type: downloader.EventCancelled}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := rpo.Get(context.Background(), dl.ID)
		if got.State == data.StateCancelled {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cancel event not reconciled")
}

func TestOnTerminalRunsAfterPersist(t *testing.T) {
	rpo := repo.NewInMemoryDownloadRepo()
	dl, _ := rpo.Add(context.Background(), &data.Download{URL: "http://h/f", Target: "/t/f", State: data.StateRunning})
	r := New(quiet(), rpo, nil)

	var forgotten []string
	r.OnTerminal(func(id string) {
		got, _ := rpo.Get(context.Background(), id)
		if got != nil && !got.State.Terminal() {
			t.Errorf("hook ran before the terminal state was stored: %v", got.State)
		}
		forgotten = append(forgotten, id)
	})

	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventProgress, Progress: &downloader.Progress{Completed: 1, Total: -1}})
	if len(forgotten) != 0 {
		t.Fatalf("progress must not trigger the hook: %v", forgotten)
	}
	r.handle(downloader.Event{ID: dl.ID, Type: downloader.EventComplete})
	r.handle(downloader.Event{ID: "gone", Type: downloader.EventFailed})
	if len(forgotten) != 2 || forgotten[0] != dl.ID || forgotten[1] != "gone" {
		t.Fatalf("forgotten = %v", forgotten)
	}
}
