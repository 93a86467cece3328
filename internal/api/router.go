package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
)

type RouterConfig struct {
	Service *appointment.Service
	Tokens  *auth.TokenManager
	Limiter *RateLimiter // booking endpoint; nil disables limiting
	Health  *HealthHandler
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := cfg.Health
	if health == nil {
		health = NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	}
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	booking := []func(http.Handler) http.Handler{RequireRole(appointment.RolePatient)}
	if cfg.Limiter != nil {
		booking = append(booking, cfg.Limiter.Middleware)
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Tokens))

		r.Get("/doctors/{doctorID}/slots", listSlotsHandler(cfg.Service))
		r.Get("/doctors/{doctorID}/availability", listAvailabilityHandler(cfg.Service))

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(appointment.RoleDoctor))
			r.Put("/doctors/{doctorID}/availability", setAvailabilityHandler(cfg.Service))
			r.Patch("/availability/{id}", patchAvailabilityHandler(cfg.Service))
			r.Delete("/availability/{id}", deleteAvailabilityHandler(cfg.Service))
		})

		r.With(booking...).Post("/appointments", createAppointmentHandler(cfg.Service))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.With(RequireRole(appointment.RoleDoctor, appointment.RoleAdmin)).
			Post("/appointments/{id}/status", updateStatusHandler(cfg.Service))

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(appointment.RoleAdmin))
			r.Post("/users/{id}/promote", promoteUserHandler(cfg.Service))
			r.Get("/stats", statsHandler(cfg.Service))
		})
	})

	return r
}
