package router

import (
	"github.com/evyataryagoni/geolookup/internal/handler"
	"github.com/evyataryagoni/geolookup/internal/limiter"
	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/metrics"
	custommiddleware "github.com/evyataryagoni/geolookup/internal/middleware"
	"github.com/evyataryagoni/geolookup/internal/router/api"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the Chi router with all middleware and routes
//
// Parameters:
//   - geoHandler: the lookup handler
//   - rateLimiter: the rate limiter (memory or Redis)
//   - m: metrics collector
//   - gatherer: registry exposed on /metrics (nil = default registry)
//   - log: structured logger
//
// Returns:
//   - chi.Router: configured router ready to use
func SetupRouter(geoHandler *handler.GeoHandler, rateLimiter limiter.Limiter, m *metrics.Metrics, gatherer prometheus.Gatherer, log *logger.Logger) chi.Router {
	r := chi.NewRouter()

	// Order matters: RequestID first, then logging, then rate limiting
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommiddleware.LoggingMiddleware(log))
	r.Use(middleware.Recoverer)
	r.Use(custommiddleware.RateLimitMiddleware(rateLimiter))
	r.Use(custommiddleware.MetricsMiddleware(m))

	r.Mount("/api", api.SetupRoutes(geoHandler))

	// Liveness, used by load balancers and monitoring
	r.Get("/health", geoHandler.Health)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
