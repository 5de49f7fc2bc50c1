package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitwatch/notifier/internal/infrastructure/config"
	"github.com/kitwatch/notifier/internal/infrastructure/observability"
	customMW "github.com/kitwatch/notifier/internal/middleware"
)

// SendTimeout bounds the send routes. A bulk send with retries can outlast
// the server write timeout.
const SendTimeout = 5 * time.Minute

type RouterDeps struct {
	Notifier    Notifier
	Scheduler   SchedulerControl
	Settings    SettingsManager
	Idempotency customMW.IdempotencyStore
	Health      *HealthController
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Server      config.ServerConfig
	JWTSecret   string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))
	r.NotFound(notFound)

	health := deps.Health
	if health == nil {
		health = NewHealthController(nil)
	}
	r.Get("/health", health.Health)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	notifications := NewNotificationController(deps.Notifier)
	outbox := NewOutboxController(deps.Notifier)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.Server.RateLimit))
		r.Use(customMW.RequireAuth(deps.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(SendTimeout))
			r.Use(customMW.SendRateLimit(sendLimit(deps.Server.RateLimit)))
			if deps.Idempotency != nil {
				r.Use(customMW.Idempotency(deps.Idempotency))
			}
			r.Post("/notifications", notifications.Send)
			r.Post("/notifications/bulk", notifications.SendBulk)
		})

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))
			r.Get("/outbox", outbox.List)
			r.Post("/outbox/flush", outbox.Flush)
			r.With(customMW.RequireRole(customMW.RoleAdmin)).Delete("/outbox/{id}", outbox.Discard)

			if deps.Scheduler != nil {
				sched := NewSchedulerController(deps.Scheduler)
				r.Get("/scheduler/state", sched.State)
				r.Post("/scheduler/report/run", sched.RunReport)
			}

			if deps.Settings != nil {
				set := NewSettingsController(deps.Settings)
				r.Get("/settings", set.List)
				r.With(customMW.RequireRole(customMW.RoleAdmin)).Put("/settings", set.Update)
			}
		})
	})

	return r
}

// sendLimit is a fifth of the general limit, at least one request.
func sendLimit(perMinute int) int {
	if perMinute <= 0 {
		return 0
	}
	return max(perMinute/5, 1)
}

// notFound keeps 404 bodies in the JSON error shape.
func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "not_found"})
}
