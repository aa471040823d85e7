package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/pospay/internal/application/checkout"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/config"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/pospay/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type RouterDeps struct {
	Pool         *pgxpool.Pool
	RedisClient  redis.UniversalClient
	Registry     *payment.Registry
	Orchestrator *checkout.Orchestrator
	Gate         *checkout.SaleGate
	Locks        *checkout.LockManager
	Audit        AuditReader
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
	Server       config.ServerConfig
	Station      config.StationConfig
	Auth         config.AuthConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing(deps.Station.ID))
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(deps.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.SecurityHeaders(deps.Station.ID))
	r.Use(customMW.Metrics(deps.Metrics, "/metrics", "/health"))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	checkoutH := NewCheckoutController(
		deps.Station.ID, deps.Registry, deps.Orchestrator, deps.Gate, deps.Locks, deps.Audit,
	)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(customMW.RequireAuth(deps.Auth.JWTSecret, deps.Station.ID, deps.Auth.Permission))
		r.Use(customMW.RateLimit(deps.Server.RateLimit))

		r.Get("/methods", checkoutH.ListMethods)
		r.Get("/session", checkoutH.GetState)
		r.Put("/cart-total", checkoutH.SetCartTotal)
		r.Post("/authorize", checkoutH.Authorize)
		r.Post("/cancel", checkoutH.Cancel)
		r.Post("/finalize", checkoutH.Finalize)

		r.Get("/terminal-lock", checkoutH.GetTerminalLock)
		r.Post("/terminal-lock/release", checkoutH.ReleaseTerminal)

		// Audit reads need the event store.
		if deps.Audit != nil {
			r.Get("/sessions/{id}/events", checkoutH.GetSessionEvents)
			r.Get("/summary", checkoutH.GetSummary)
		}
	})

	return r
}
