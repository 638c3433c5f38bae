package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evyataryagoni/geolookup/internal/config"
	"github.com/evyataryagoni/geolookup/internal/handler"
	"github.com/evyataryagoni/geolookup/internal/limiter"
	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/metrics"
	"github.com/evyataryagoni/geolookup/internal/router"
	"github.com/evyataryagoni/geolookup/internal/service"
	"github.com/evyataryagoni/geolookup/internal/store"
	"github.com/evyataryagoni/geolookup/internal/updater"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	appConfig := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize components
	appLogger := setupLogger(appConfig)
	metricsCollector := setupMetrics(appLogger)

	dbStore := setupStore(appConfig, appLogger)
	defer dbStore.Close()

	rateLimiter := setupRateLimiter(appConfig, appLogger)
	defer rateLimiter.Close()

	pipeline := setupPipeline(appConfig, dbStore, metricsCollector, appLogger)
	scheduler := startScheduler(ctx, appConfig, pipeline, appLogger)
	startWatcher(ctx, appConfig, dbStore, metricsCollector, appLogger)

	// Build application layers
	geoService := service.NewGeoService(dbStore, metricsCollector, appLogger)
	geoHandler := handler.NewGeoHandler(geoService, appLogger)
	appRouter := router.SetupRouter(geoHandler, rateLimiter, metricsCollector, prometheus.DefaultGatherer, appLogger)

	runServer(ctx, appConfig, appRouter, appLogger)

	if scheduler != nil {
		// a cycle in flight observes ctx and unwinds its scratch files
		select {
		case <-scheduler.Done():
		case <-time.After(10 * time.Second):
			appLogger.Warn().Msg("Refresh still running at shutdown")
		}
	}
	appLogger.Info().Msg("Server stopped")
}

// setupLogger initializes the structured logger
func setupLogger(appConfig *config.Config) *logger.Logger {
	appLogger := logger.New(logger.Config{
		Level:  appConfig.LogLevel,
		Pretty: appConfig.LogPretty,
	})

	types := make([]string, len(appConfig.Databases))
	for i, t := range appConfig.Databases {
		types[i] = string(t)
	}

	appLogger.Info().Msg("Starting geolookup server...")
	appLogger.Info().
		Str("port", appConfig.Port).
		Str("rate_limiter_type", appConfig.RateLimitType).
		Int("rate_limit", appConfig.RateLimit).
		Int("rate_limit_window", appConfig.RateLimitWindow).
		Str("data_dir", appConfig.DataDir).
		Strs("databases", types).
		Dur("refresh_interval", appConfig.RefreshInterval).
		Bool("refresh_on_start", appConfig.RefreshOnStart).
		Bool("watch_data_dir", appConfig.WatchDataDir).
		Msg("Configuration loaded")

	return appLogger
}

// setupMetrics initializes the Prometheus metrics collector
func setupMetrics(log *logger.Logger) *metrics.Metrics {
	metricsCollector := metrics.New()
	log.Info().Msg("Metrics initialized")
	return metricsCollector
}

// setupStore creates the database store and publishes whatever is already on disk
func setupStore(appConfig *config.Config, log *logger.Logger) *store.DatabaseStore {
	dbStore := store.NewDatabaseStore(appConfig.Databases, nil, log)

	loaded := updater.LoadExisting(dbStore, appConfig.DataDir, appConfig.Databases, log)
	log.Info().
		Int("loaded", len(loaded)).
		Int("configured", len(appConfig.Databases)).
		Msg("Database store initialized")
	if len(loaded) == 0 {
		log.Warn().Msg("No database loaded yet, lookups return 503 until the first refresh")
	}
	return dbStore
}

// setupRateLimiter initializes the rate limiter
// Supports in-memory and Redis-based rate limiting
func setupRateLimiter(appConfig *config.Config, log *logger.Logger) limiter.Limiter {
	// 10 requests per 5 seconds = 2.0 req/s
	effectiveRate := float64(appConfig.RateLimit) / float64(appConfig.RateLimitWindow)

	rateLimiter, err := limiter.NewLimiter(limiter.LimiterConfig{
		Type:              appConfig.RateLimitType,
		RequestsPerSecond: effectiveRate,
		RedisAddr:         appConfig.RedisAddr,
		RedisPassword:     appConfig.RedisPassword,
		RedisDB:           appConfig.RedisDB,
		Logger:            log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rate limiter")
	}

	log.Info().
		Str("type", appConfig.RateLimitType).
		Float64("requests_per_second", effectiveRate).
		Msg("Rate limiter initialized")

	return rateLimiter
}

// setupPipeline builds the refresh pipeline for the configured sources
func setupPipeline(appConfig *config.Config, dbStore *store.DatabaseStore, m *metrics.Metrics, log *logger.Logger) *updater.Pipeline {
	sources := make([]updater.Source, 0, len(appConfig.Databases))
	for _, t := range appConfig.Databases {
		sources = append(sources, updater.Source{Type: t, URL: appConfig.SourceURL(t)})
	}
	return updater.NewPipeline(updater.Options{
		DataDir:         appConfig.DataDir,
		ScratchDir:      appConfig.ScratchDir,
		Sources:         sources,
		Timeout:         appConfig.RefreshTimeout,
		MaxWalkDepth:    appConfig.MaxWalkDepth,
		MaxPayloadBytes: appConfig.MaxPayload,
		Parallel:        appConfig.RefreshParallel,
	}, dbStore, m, log)
}

// startScheduler runs the in-process refresh loop when configured
func startScheduler(ctx context.Context, appConfig *config.Config, p *updater.Pipeline, log *logger.Logger) *updater.Scheduler {
	if appConfig.RefreshInterval <= 0 && !appConfig.RefreshOnStart {
		log.Info().Msg("In-process refresh disabled, run geoupdate to refresh databases")
		return nil
	}
	if appConfig.LicenseKey == "" && len(appConfig.SourceURLs) == 0 {
		log.Warn().Msg("MAXMIND_LICENSE_KEY is empty and no GEO_<TYPE>_URL is set, downloads will fail")
	}
	s := updater.NewScheduler(p, appConfig.RefreshInterval, appConfig.RefreshOnStart, log)
	s.Start(ctx)
	return s
}

// startWatcher reloads databases replaced by an out-of-process refresh
func startWatcher(ctx context.Context, appConfig *config.Config, dbStore *store.DatabaseStore, m *metrics.Metrics, log *logger.Logger) {
	if !appConfig.WatchDataDir {
		return
	}
	w := updater.NewWatcher(appConfig.DataDir, appConfig.Databases, dbStore, m, log)
	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Data directory watcher stopped")
		}
	}()
}

// runServer serves until ctx is cancelled, then shuts down gracefully
func runServer(ctx context.Context, appConfig *config.Config, appRouter http.Handler, log *logger.Logger) {
	srv := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           appRouter,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", appConfig.Port).
			Str("api_endpoint", "http://localhost:"+appConfig.Port+"/api/lookup/<ip>").
			Str("status", "http://localhost:"+appConfig.Port+"/api/status").
			Str("health_check", "http://localhost:"+appConfig.Port+"/health").
			Str("metrics", "http://localhost:"+appConfig.Port+"/metrics").
			Msg("Server is running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}
}
