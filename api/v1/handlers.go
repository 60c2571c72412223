package v1

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
	"github.com/dmorcellet/delta-downloads/internal/service"
)

type DownloadHandler struct {
	l   *slog.Logger
	svc service.Download
}

type addBody struct {
	URL    string `json:"url"`
	Target string `json:"target"`
}

type patchBody struct {
	DesiredState string `json:"desiredState"`
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the websocket upgrade pass through the access log.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T does not support hijacking", w.ResponseWriter)
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (w *rwLogger) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyDownload struct{}
type ctxKeyPatch struct{}

func NewDownloadHandler(l *slog.Logger, svc service.Download) *DownloadHandler {
	return &DownloadHandler{l: l, svc: svc}
}

func (dh *DownloadHandler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	dls, err := dh.svc.List(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := dls.ToJSON(w); err != nil {
		markErr(w, err)
		http.Error(w, "Unable to marshal json", http.StatusInternalServerError)
	}
}

func (dh *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dl, err := dh.svc.Get(r.Context(), id)
	if err != nil {
		markErr(w, err)
		if errors.Is(err, data.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to get download", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = dl.ToJSON(w)
}

func (dh *DownloadHandler) AddDownload(w http.ResponseWriter, r *http.Request) {
	body, ok := r.Context().Value(ctxKeyDownload{}).(addBody)
	if !ok {
		markErr(w, ErrDownloadCtx)
		http.Error(w, ErrDownloadCtx.Error(), http.StatusInternalServerError)
		return
	}

	dl, created, err := dh.svc.Add(r.Context(), body.URL, body.Target)
	if err != nil {
		markErr(w, err)
		switch {
		case errors.Is(err, data.ErrInvalidURL), errors.Is(err, data.ErrTarget), errors.Is(err, downloader.ErrBadRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, data.ErrConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, downloader.ErrSinkStart):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			http.Error(w, "failed to add download", http.StatusInternalServerError)
		}
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/v1/downloads/"+dl.ID)
	w.WriteHeader(status)
	_ = dl.ToJSON(w)
}

func (dh *DownloadHandler) UpdateDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := r.Context().Value(ctxKeyPatch{}).(patchBody)
	if !ok || body.DesiredState == "" {
		markErr(w, ErrDesiredState)
		http.Error(w, ErrDesiredState.Error(), http.StatusInternalServerError)
		return
	}

	st, err := data.ParseState(body.DesiredState)
	if err != nil {
		markErr(w, err)
		http.Error(w, "Invalid desiredState (allowed: Cancelled)", http.StatusBadRequest)
		return
	}
	updated, err := dh.svc.UpdateDesiredState(r.Context(), id, st)
	if err != nil {
		markErr(w, err)
		switch {
		case errors.Is(err, data.ErrNotFound):
			http.Error(w, "Not found", http.StatusNotFound)
		case errors.Is(err, data.ErrBadState):
			http.Error(w, "Invalid desiredState (allowed: Cancelled)", http.StatusBadRequest)
		default:
			http.Error(w, "failed to update", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = updated.ToJSON(w)
}
