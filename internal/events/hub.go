// Package events fans download events out to websocket subscribers.
package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dmorcellet/delta-downloads/internal/downloader"
)

const (
	defaultBuffer = 64
	writeTimeout  = 5 * time.Second
)

// Hub is a downloader.Reporter broadcasting every event to its subscribers.
// Report never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	log    *slog.Logger
	buffer int

	mu   sync.Mutex
	subs map[chan downloader.Event]struct{}
}

var _ downloader.Reporter = (*Hub)(nil)

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, buffer: defaultBuffer, subs: make(map[chan downloader.Event]struct{})}
}

// Report implements downloader.Reporter.
func (h *Hub) Report(e downloader.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.log.Debug("dropping event for slow subscriber", "id", e.ID, "type", e.Type)
		}
	}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel.
func (h *Hub) Subscribe() (<-chan downloader.Event, func()) {
	ch := make(chan downloader.Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams events as JSON
// text messages until the client goes away. An optional "id" query
// parameter restricts the stream to one download.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket accept", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "closing") }()

	// clients only listen; CloseRead handles their control frames
	ctx := conn.CloseRead(r.Context())
	filter := r.URL.Query().Get("id")

	events, unsubscribe := h.Subscribe()
	defer unsubscribe()
	h.log.Info("events subscriber connected", "remote", r.RemoteAddr, "filter", filter)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("events subscriber gone", "remote", r.RemoteAddr)
			return
		case e := <-events:
			if filter != "" && e.ID != filter {
				continue
			}
			if err := write(ctx, conn, e); err != nil {
				h.log.Info("events write", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, e downloader.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
