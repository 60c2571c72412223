package v1_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	internaldata "github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloadcfg"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
	"github.com/dmorcellet/delta-downloads/internal/reconciler"
	"github.com/dmorcellet/delta-downloads/internal/repo"
	"github.com/dmorcellet/delta-downloads/internal/router"
	"github.com/dmorcellet/delta-downloads/internal/service"
	"github.com/dmorcellet/delta-downloads/internal/transport"
)

const testToken = "testtoken"

func setup(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := repo.NewInMemoryDownloadRepo()
	reg := downloader.NewRegistry(transport.NewClient(transport.DefaultOptions()))
	reg.SetLogger(logger)

	events := make(chan downloader.Event, 256)
	l := downloader.NewReportingListener(downloader.NewChanReporter(events))
	rec := reconciler.New(logger, r, events)
	rec.OnTerminal(reg.Forget)
	rec.OnTerminal(l.Forget)
	rec.Run()
	t.Cleanup(rec.Stop)
	svc := service.NewDownload(logger, r, reg, l, downloadcfg.CollisionOverwrite)
	return router.New(logger, svc, router.Options{Token: testToken})
}

// origin serves "hello" or, when block is set, holds the body open until the
// client goes away.
func origin(t *testing.T, block bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("hello"))
		if block {
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) internaldata.Download {
	t.Helper()
	var d internaldata.Download
	if err := json.NewDecoder(rr.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v (%q)", err, rr.Body.String())
	}
	return d
}

func addBody(url, target string) string {
	b, _ := json.Marshal(map[string]string{"url": url, "target": target})
	return string(b)
}

func TestHealthz(t *testing.T) {
	h := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "ok" {
		t.Fatalf("expected body 'ok' got %q", rr.Body.String())
	}
}

func TestDownloadsLifecycle(t *testing.T) {
	h := setup(t)
	srv := origin(t, false)
	target := filepath.Join(t.TempDir(), "hello.txt")

	// GET empty list
	rr := do(t, h, http.MethodGet, "/v1/downloads", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	var list []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list got %v", list)
	}

	// POST valid download
	rr = do(t, h, http.MethodPost, "/v1/downloads", addBody(srv.URL+"/file", target))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rr.Code, rr.Body.String())
	}
	created := decode(t, rr)
	if created.ID == "" || created.URL != srv.URL+"/file" || created.Target != target {
		t.Fatalf("unexpected created download %+v", created)
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/downloads/"+created.ID {
		t.Fatalf("unexpected Location %q", loc)
	}

	// GET by id until the download settles
	deadline := time.Now().Add(3 * time.Second)
	for {
		rr = do(t, h, http.MethodGet, "/v1/downloads/"+created.ID, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 got %d", rr.Code)
		}
		got := decode(t, rr)
		if got.State == internaldata.StateOK {
			if got.DoneSize != 5 {
				t.Fatalf("doneSize = %d", got.DoneSize)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("download never completed: %+v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// GET missing
	rr = do(t, h, http.MethodGet, "/v1/downloads/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rr.Code)
	}

	// PATCH on a finished download returns it unchanged in state
	rr = do(t, h, http.MethodPatch, "/v1/downloads/"+created.ID, `{"desiredState":"Cancelled"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode(t, rr); got.State != internaldata.StateOK {
		t.Fatalf("terminal download changed state: %+v", got)
	}
}

func TestAddDuplicateAndCancel(t *testing.T) {
	h := setup(t)
	srv := origin(t, true)
	target := filepath.Join(t.TempDir(), "slow.bin")

	rr := do(t, h, http.MethodPost, "/v1/downloads", addBody(srv.URL, target))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rr.Code, rr.Body.String())
	}
	first := decode(t, rr)

	rr = do(t, h, http.MethodPost, "/v1/downloads", addBody(srv.URL, target))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for duplicate got %d", rr.Code)
	}
	if dup := decode(t, rr); dup.ID != first.ID {
		t.Fatalf("duplicate returned %s, want %s", dup.ID, first.ID)
	}

	rr = do(t, h, http.MethodPatch, "/v1/downloads/"+first.ID, `{"desiredState":"Running"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPatch, "/v1/downloads/"+first.ID, `{"desiredState":"Bogus"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPatch, "/v1/downloads/nope", `{"desiredState":"Cancelled"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rr.Code)
	}

	rr = do(t, h, http.MethodPatch, "/v1/downloads/"+first.ID, `{"desiredState":"Cancelled"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode(t, rr); got.DesiredState != internaldata.StateCancelled {
		t.Fatalf("desiredState = %s", got.DesiredState)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		got := decode(t, do(t, h, http.MethodGet, "/v1/downloads/"+first.ID, ""))
		if got.State == internaldata.StateCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("download never cancelled: %+v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAddValidation(t *testing.T) {
	h := setup(t)
	dir := t.TempDir()
	tests := []struct {
		name        string
		body        string
		contentType string
		want        int
	}{
		{"wrong content type", addBody("http://h/f", filepath.Join(dir, "a")), "text/plain", http.StatusUnsupportedMediaType},
		{"unknown field", `{"url":"http://h/f","target":"/tmp/a","extra":1}`, "application/json", http.StatusBadRequest},
		{"malformed json", `{"url":`, "application/json", http.StatusBadRequest},
		{"missing url", `{"target":"/tmp/a"}`, "application/json", http.StatusBadRequest},
		{"missing target", `{"url":"http://h/f"}`, "application/json", http.StatusBadRequest},
		{"bad scheme", addBody("ftp://h/f", filepath.Join(dir, "b")), "application/json", http.StatusBadRequest},
		{"body too large", `{"url":"` + strings.Repeat("a", 1<<20) + `"}`, "application/json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/downloads", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+testToken)
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}

	rr := do(t, h, http.MethodGet, "/v1/downloads", "")
	var list []map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&list)
	if len(list) != 0 {
		t.Fatalf("rejected requests were stored: %v", list)
	}
}

func TestPatchValidation(t *testing.T) {
	h := setup(t)
	tests := []struct {
		name        string
		body        string
		contentType string
		want        int
	}{
		{"wrong content type", `{"desiredState":"Cancelled"}`, "text/plain", http.StatusUnsupportedMediaType},
		{"missing desiredState", `{}`, "application/json", http.StatusBadRequest},
		{"unknown field", `{"desiredState":"Cancelled","x":1}`, "application/json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/v1/downloads/any", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+testToken)
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestRequiresToken(t *testing.T) {
	h := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rr.Code)
	}
}
