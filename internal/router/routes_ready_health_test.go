package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
	"github.com/dmorcellet/delta-downloads/internal/health"
	"github.com/dmorcellet/delta-downloads/internal/service"
)

// fakeDownloadSvc is a stub to satisfy service.Download in router tests.
type fakeDownloadSvc struct{}

var _ service.Download = (*fakeDownloadSvc)(nil)

func (f *fakeDownloadSvc) List(ctx context.Context) (data.Downloads, error) { return nil, nil }
func (f *fakeDownloadSvc) Get(ctx context.Context, id string) (*data.Download, error) {
	return nil, data.ErrNotFound
}
func (f *fakeDownloadSvc) Add(ctx context.Context, rawURL, target string) (*data.Download, bool, error) {
	return nil, false, nil
}
func (f *fakeDownloadSvc) UpdateDesiredState(ctx context.Context, id string, st data.State) (*data.Download, error) {
	return nil, nil
}
func (f *fakeDownloadSvc) Wait(ctx context.Context, id string) (downloader.Termination, error) {
	return downloader.Termination{}, nil
}

// fakePinger allows toggling Ping behaviour.
type fakePinger struct{ pingErr error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.pingErr }

func TestHealthzOK(t *testing.T) {
	r := New(slog.Default(), &fakeDownloadSvc{}, Options{Token: "t"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Fatalf("expected body 'ok', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestReadyzSuccess(t *testing.T) {
	r := New(slog.Default(), &fakeDownloadSvc{}, Options{Ready: []health.Check{health.PingCheck(&fakePinger{})}})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadyzFailure(t *testing.T) {
	r := New(slog.Default(), &fakeDownloadSvc{}, Options{Ready: []health.Check{
		health.PingCheck(&fakePinger{}),
		health.PingCheck(&fakePinger{pingErr: errors.New("nope")}),
	}})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestEventsRouteBeforeID(t *testing.T) {
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r := New(slog.Default(), &fakeDownloadSvc{}, Options{Token: "t", Events: events})

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads/events", nil)
	req.Header.Set("Authorization", "Bearer t")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTeapot {
		t.Fatalf("events route not matched, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/downloads/abc", nil)
	req.Header.Set("Authorization", "Bearer t")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from stub, got %d", w.Code)
	}
}
