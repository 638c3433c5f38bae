package metrics

import (
	"time"

	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Lookup Metrics
	LookupsTotal  *prometheus.CounterVec
	LookupsErrors *prometheus.CounterVec

	// Refresh Metrics
	RefreshTotal       *prometheus.CounterVec
	RefreshDuration    *prometheus.HistogramVec
	DatabaseLoaded     *prometheus.GaugeVec
	DatabaseBuildEpoch *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics on reg
// Tests pass prometheus.NewRegistry() to avoid duplicate registration panics
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint", "status"},
		),

		LookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_lookups_total",
				Help: "Total number of IP lookups by outcome",
			},
			[]string{"result"},
		),

		LookupsErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_lookup_errors_total",
				Help: "Total number of failed sub-lookups per database",
			},
			[]string{"database"},
		),

		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_refresh_total",
				Help: "Total number of database refresh attempts by outcome",
			},
			[]string{"database", "result"},
		),

		RefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geo_refresh_duration_seconds",
				Help:    "Duration of database refresh attempts",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"database"},
		),

		DatabaseLoaded: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "geo_database_loaded",
				Help: "1 if a database generation is published for the type",
			},
			[]string{"database"},
		),

		DatabaseBuildEpoch: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "geo_database_build_epoch_seconds",
				Help: "Build time of the published database generation",
			},
			[]string{"database"},
		),
	}
}

// RecordRefresh tracks one refresh attempt
func (m *Metrics) RecordRefresh(dbType models.DatabaseType, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.RefreshTotal.WithLabelValues(string(dbType), result).Inc()
	m.RefreshDuration.WithLabelValues(string(dbType)).Observe(duration.Seconds())
}

// RecordDatabases mirrors the store status into the database gauges
func (m *Metrics) RecordDatabases(statuses []models.DatabaseStatus) {
	for _, st := range statuses {
		loaded := 0.0
		if st.Loaded {
			loaded = 1
		}
		m.DatabaseLoaded.WithLabelValues(string(st.Type)).Set(loaded)
		m.DatabaseBuildEpoch.WithLabelValues(string(st.Type)).Set(float64(st.BuildEpoch))
	}
}
