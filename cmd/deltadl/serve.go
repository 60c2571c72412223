package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmorcellet/delta-downloads/internal/config"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
	"github.com/dmorcellet/delta-downloads/internal/events"
	"github.com/dmorcellet/delta-downloads/internal/health"
	"github.com/dmorcellet/delta-downloads/internal/metrics"
	"github.com/dmorcellet/delta-downloads/internal/reconciler"
	"github.com/dmorcellet/delta-downloads/internal/repo"
	"github.com/dmorcellet/delta-downloads/internal/router"
	"github.com/dmorcellet/delta-downloads/internal/service"
)

const (
	eventBuffer     = 1024
	shutdownTimeout = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the downloads HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

// openRepo selects the repository for cfg.Store.Driver. The returned func
// closes it.
func openRepo(ctx context.Context, c *config.Config) (repo.DownloadRepo, func() error, error) {
	switch c.Store.Driver {
	case config.StorePostgres:
		r, err := repo.NewPostgresRepo(ctx, c.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return r, r.Close, nil
	case config.StoreSQLite:
		r, err := repo.NewSQLiteRepo(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		return r, r.Close, nil
	default:
		return repo.NewInMemoryDownloadRepo(), func() error { return nil }, nil
	}
}

func serve(ctx context.Context) error {
	metrics.Register()

	store, closeStore, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close store", "err", err)
		}
	}()
	logger.Info("store ready", "driver", cfg.Store.Driver)

	if n, err := service.Recover(ctx, store, logger); err != nil {
		return fmt.Errorf("recover downloads: %w", err)
	} else if n > 0 {
		logger.Warn("marked unfinished downloads failed", "count", n)
	}

	ch := make(chan downloader.Event, eventBuffer)
	chReporter := downloader.NewChanReporter(ch)
	hub := events.NewHub(logger)
	listener := downloader.NewReportingListener(downloader.MultiReporter{chReporter, hub})

	reg := downloader.NewRegistry(newTransport())
	reg.SetLogger(logger)
	svc := service.NewDownload(logger, store, reg, listener, cfg.Policy())

	// finished downloads are served from the store from then on
	rec := reconciler.New(logger, store, ch)
	rec.OnTerminal(reg.Forget)
	rec.OnTerminal(listener.Forget)
	rec.Run()
	defer rec.Stop()
	defer chReporter.Close()

	if cfg.APIToken == "" {
		logger.Warn("DELTA_API_TOKEN is empty; every API call will be rejected")
	}
	handler := router.New(logger, svc, router.Options{
		Token:  cfg.APIToken,
		Events: hub,
		Ready: []health.Check{
			health.PingCheck(store),
			health.DiskCheck(cfg.DownloadDir, cfg.MinFreeBytes),
		},
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting delta-downloads API", "addr", server.Addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("received terminate, graceful shutdown", "active", reg.Active())
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = server.Shutdown(sctx)
	if left := reg.CancelAll(sctx); left > 0 {
		logger.Error("downloads still running at exit", "count", left)
	}
	return err
}
