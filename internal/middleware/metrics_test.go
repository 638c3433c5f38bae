package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricsMiddleware_RoutePatternLabels tests that addresses never become labels
func TestMetricsMiddleware_RoutePatternLabels(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.Get("/api/lookup/{ip}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	for _, ip := range []string{"8.8.8.8", "1.1.1.1", "9.9.9.9"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lookup/"+ip, nil))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/lookup/{ip}", "200")); got != 3 {
		t.Errorf("expected 3 requests on the route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("expected 1 unmatched request, got %v", got)
	}
	if n := testutil.CollectAndCount(m.HTTPRequestsTotal); n != 2 {
		t.Errorf("expected 2 label sets, got %d", n)
	}
}

// TestMetricsMiddleware_NilMetrics tests that metrics are optional
func TestMetricsMiddleware_NilMetrics(t *testing.T) {
	called := false
	h := MetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if !called {
		t.Error("expected next handler to be called")
	}
}

// TestLoggingMiddleware_PassThrough tests that logging does not alter responses
func TestLoggingMiddleware_PassThrough(t *testing.T) {
	h := LoggingMiddleware(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not loaded"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lookup/8.8.8.8", nil))

	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "not loaded" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
