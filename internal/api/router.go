package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service      AppointmentService
	Postgres     Pinger
	Redis        Pinger
	Metrics      http.Handler
	Logger       *zap.Logger
	CORSOrigins  []string
	RateLimitRPS int
	StaffAPIKey  string
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", HeaderAPIKey},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitRPS, time.Second))
		}

		r.Get("/availability", availabilityHandler(cfg.Service, logger))
		r.Post("/appointments", createAppointmentHandler(cfg.Service, logger))
	})

	// staff only: these expose contact details or change appointment state
	r.Group(func(r chi.Router) {
		r.Use(StaffAPIKeyMiddleware(cfg.StaffAPIKey, logger))

		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, logger))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service, logger))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, logger))
	})

	return r
}
