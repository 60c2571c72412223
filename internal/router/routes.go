package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/dmorcellet/delta-downloads/api/v1"
	"github.com/dmorcellet/delta-downloads/internal/auth"
	"github.com/dmorcellet/delta-downloads/internal/health"
	"github.com/dmorcellet/delta-downloads/internal/service"
)

const readyTimeout = 2 * time.Second

// Options carries the optional pieces of the HTTP surface.
type Options struct {
	// Token is the bearer token required on every route except health and metrics.
	Token string
	// Events serves GET /v1/downloads/events when set.
	Events http.Handler
	// Ready are the checks behind /readyz.
	Ready []health.Check
}

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, downloadSvc service.Download, opts Options) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := health.Run(ctx, opts.Ready...); err != nil {
			logger.Warn("not ready", "err", err)
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	downloadHandler := v1.NewDownloadHandler(logger, downloadSvc)

	r.Use(v1.RequestID)
	r.Use(downloadHandler.Log)
	r.Use(auth.Middleware(opts.Token))

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/downloads", downloadHandler.GetDownloads)
	if opts.Events != nil {
		get.Handle("/downloads/events", opts.Events)
	}
	get.HandleFunc("/downloads/{id}", downloadHandler.GetDownload)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/downloads", downloadHandler.AddDownload)
	post.Use(v1.MiddlewareDownloadValidation)

	// PATCHes
	patch := api.Methods("PATCH").Subrouter()
	patch.HandleFunc("/downloads/{id}", downloadHandler.UpdateDownload)
	patch.Use(v1.MiddlewarePatchDesired)

	return r
}
