// Package http assembles the portal's REST API.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/loan-portal/internal/interfaces/http/handlers"
	"github.com/turtacn/loan-portal/internal/interfaces/http/middleware"
)

// DefaultMetricsPath is where the Prometheus scrape endpoint is mounted.
const DefaultMetricsPath = "/metrics"

// RouterConfig aggregates the handlers and middleware dependencies of the
// route tree.  Nil handlers leave their routes unmounted.
type RouterConfig struct {
	ClientHandler *handlers.ClientHandler
	DealHandler   *handlers.DealHandler
	HealthHandler *handlers.HealthHandler

	Logger           logging.Logger
	Metrics          *prometheus.AppMetrics
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string

	CORSAllowedOrigins []string
	// RateLimiter guards the client routes.  Nil disables limiting.
	RateLimiter middleware.RateLimiter
}

// NewRouter constructs the HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogging(cfg.Logger, middleware.DefaultLoggingConfig()))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = DefaultMetricsPath
		}
		r.Handle(path, cfg.MetricsCollector.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.ClientHandler != nil {
			api.Group(func(g chi.Router) {
				if cfg.RateLimiter != nil {
					g.Use(middleware.RateLimit(cfg.RateLimiter, middleware.DefaultRateLimitConfig()))
				}
				cfg.ClientHandler.RegisterRoutes(g)
			})
		}
		if cfg.DealHandler != nil {
			cfg.DealHandler.RegisterRoutes(api)
		}
	})

	return r
}
