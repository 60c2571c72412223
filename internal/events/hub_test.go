package events

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dmorcellet/delta-downloads/internal/downloader"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReportFansOut(t *testing.T) {
	h := NewHub(quiet())
	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	defer unsubB()

	h.Report(downloader.Event{ID: "1", Type: downloader.EventStart})
	if e := <-a; e.ID != "1" {
		t.Fatalf("a got %+v", e)
	}
	if e := <-b; e.ID != "1" {
		t.Fatalf("b got %+v", e)
	}

	unsubA()
	unsubA()
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers())
	}
	if _, ok := <-a; ok {
		t.Fatalf("unsubscribed channel still open")
	}
}

func TestReportDoesNotBlock(t *testing.T) {
	h := NewHub(quiet())
	h.buffer = 1
	_, unsub := h.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Report(downloader.Event{ID: "x", Type: downloader.EventProgress})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("report blocked on a full subscriber")
	}
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	h := NewHub(quiet())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?id=want"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	// wait until the server side has subscribed
	for h.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatalf("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	h.Report(downloader.Event{ID: "other", Type: downloader.EventStart})
	h.Report(downloader.Event{ID: "want", Type: downloader.EventComplete, Progress: &downloader.Progress{Completed: 3, Total: 3}})

	var got downloader.Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != "want" || got.Type != downloader.EventComplete || got.Progress == nil || got.Progress.Completed != 3 {
		t.Fatalf("event = %+v", got)
	}
}
