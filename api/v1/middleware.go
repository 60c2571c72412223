package v1

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmorcellet/delta-downloads/internal/reqid"
)

// contentTypeOrBad answers a decode failure with 415 or 400.
func contentTypeOrBad(w http.ResponseWriter, err error) {
	markErr(w, err)
	if errors.Is(err, ErrContentType) {
		http.Error(w, ErrContentType.Error(), http.StatusUnsupportedMediaType)
		return
	}
	http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
}

func MiddlewareDownloadValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body addBody
		if err := decodeJSONStrict(w, r, &body, maxBodyBytes, "application/json"); err != nil {
			contentTypeOrBad(w, err)
			return
		}
		if strings.TrimSpace(body.URL) == "" {
			markErr(w, ErrURLRequired)
			http.Error(w, ErrURLRequired.Error(), http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.Target) == "" {
			markErr(w, ErrTargetRequired)
			http.Error(w, ErrTargetRequired.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyDownload{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func MiddlewarePatchDesired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body patchBody
		if err := decodeJSONStrict(w, r, &body, maxBodyBytes, "application/json"); err != nil {
			contentTypeOrBad(w, err)
			return
		}
		if body.DesiredState == "" {
			markErr(w, ErrDesiredStateJSON)
			http.Error(w, ErrDesiredStateJSON.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPatch{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (dh *DownloadHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		attrs := []any{
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", time.Since(startTime).Milliseconds(),
			"bytes", rw.bytes,
		}
		if id, ok := reqid.From(r.Context()); ok {
			attrs = append(attrs, "request_id", id)
		}
		if rw.err != nil {
			dh.l.Error(rw.err.Error(), attrs...)
			return
		}
		dh.l.Info("", attrs...)
	})
}
