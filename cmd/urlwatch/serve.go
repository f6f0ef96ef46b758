package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"urlwatch/internal/api"
	"urlwatch/internal/checker"
	"urlwatch/internal/watchlist"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the check scheduler and the inspection API",
		Long: `Run the check scheduler until SIGINT or SIGTERM.

Every tick the scheduler picks the enabled watch items due within the tick,
checks each one at its due time and records the result. When http.port is
not 0 a read-only JSON API is served alongside.

serve exits non-zero when the store cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	// Create a context that is canceled on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger := a.cfg, a.logger

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()
	logger.Info("store ready", "driver", cfg.Database.Driver)

	prober := checker.NewHTTPProber(checker.ProbeOptions{
		ConnectTimeout:     cfg.Probe.ConnectTimeout.Duration(),
		RequestTimeout:     cfg.Probe.RequestTimeout.Duration(),
		InsecureSkipVerify: cfg.Probe.InsecureSkipVerify,
	}, logger)
	sched := checker.New(store, prober, checker.Options{
		Interval:       cfg.Scheduler.Interval.Duration(),
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
	}, logger)
	sched.Start(ctx)

	var (
		srv    *api.Server
		srvErr <-chan error
	)
	if cfg.HTTP.Port > 0 {
		watches := watchlist.NewService(store, cfg.MinItemInterval())
		srv = api.NewServer(cfg.HTTP.Port, api.NewRouter(api.NewHandlers(watches, store, logger), logger), logger)
		srv.Start()
		srvErr = srv.Err()
	}

	logger.Info("urlwatch is running",
		"interval", cfg.Scheduler.Interval.Duration(),
		"max_concurrency", cfg.Scheduler.MaxConcurrency)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, starting graceful shutdown")
	case err := <-sched.Err():
		logger.Error("scheduler stopped unexpectedly", "error", err)
		runErr = err
	case err := <-srvErr:
		logger.Error("HTTP server failed", "error", err)
		runErr = fmt.Errorf("http server: %w", err)
	}

	grace := cfg.ShutdownGrace.Duration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", "error", err)
		}
	}

	// Stop the scheduler, letting in-flight checks finish within the grace period.
	stopped := make(chan struct{})
	go func() {
		sched.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("checks still in flight after shutdown grace", "grace", grace)
	}

	return runErr
}
