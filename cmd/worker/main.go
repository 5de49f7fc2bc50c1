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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kitwatch/notifier/internal/bootstrap"
)

// The worker runs the scheduler and the startup flush without the API, for
// deployments where sends are only ever triggered by the schedule. It
// serves liveness and metrics on the server port. Do not run it next to
// cmd/api.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "kitwatch-worker", "kitwatch_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close(ctx)

	notifier, err := app.BuildNotifier()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build notifier")
	}
	cfg := app.Config

	r := chi.NewRouter()
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"alive"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Flush first so a restart does not leave stale entries waiting for
	// the next manual trigger.
	g.Go(func() error {
		if cfg.Scheduler.FlushOnStart {
			summary, err := notifier.Notifications.FlushOutbox(gCtx)
			if err != nil {
				app.Logger.Error().Err(err).Msg("Startup outbox flush failed")
			} else {
				app.Logger.Info().
					Int("processed", summary.Processed).
					Int("successful", summary.Successful).
					Int("failed", summary.Failed).
					Msg("Startup outbox flush done")
			}
		}

		if err := notifier.Scheduler.Start(gCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		app.Logger.Info().Msg("Worker started")
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return notifier.Scheduler.Stop(shutdownCtx)
	})

	// 2. Metrics and liveness.
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	// 3. Wait for shutdown signal.
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down worker...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
