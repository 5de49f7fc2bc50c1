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

	"golang.org/x/sync/errgroup"

	"github.com/kitwatch/notifier/internal/bootstrap"
	"github.com/kitwatch/notifier/internal/controller"
	infraRedis "github.com/kitwatch/notifier/internal/infrastructure/redis"
)

// The API process runs the HTTP surface, the scheduler and the startup
// outbox flush. Run either this or cmd/worker, never both: the outbox and
// state files have a single writer.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "kitwatch-api", "kitwatch", bootstrap.WithRedis())
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

	router := controller.NewRouter(controller.RouterDeps{
		Notifier:    notifier.Notifications,
		Scheduler:   notifier.Scheduler,
		Settings:    notifier.Settings,
		Idempotency: infraRedis.NewIdempotencyStore(app.Redis, cfg.Redis.IdempotencyTTL,
			infraRedis.WithReservationTTL(controller.SendTimeout+time.Minute)),
		Health: controller.NewHealthController(map[string]controller.Pinger{
			"database": app.Pool,
			"redis":    controller.PingFunc(func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }),
		}),
		Metrics:   app.Metrics,
		Gatherer:  app.Registry,
		Server:    cfg.Server,
		JWTSecret: cfg.Auth.JWTSecret,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// 1. HTTP server.
	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 2. Scheduler.
	if cfg.Scheduler.Enabled {
		g.Go(func() error {
			if err := notifier.Scheduler.Start(gCtx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return notifier.Scheduler.Stop(shutdownCtx)
		})
	}

	// 3. Replay whatever a previous run left in the outbox.
	if cfg.Scheduler.FlushOnStart {
		g.Go(func() error {
			summary, err := notifier.Notifications.FlushOutbox(gCtx)
			if err != nil {
				app.Logger.Error().Err(err).Msg("Startup outbox flush failed")
				return nil
			}
			app.Logger.Info().
				Int("processed", summary.Processed).
				Int("successful", summary.Successful).
				Int("failed", summary.Failed).
				Msg("Startup outbox flush done")
			return nil
		})
	}

	// 4. Graceful shutdown.
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("API exited with error")
		return
	}
	app.Logger.Info().Msg("Server exited")
}
