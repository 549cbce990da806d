// Package metrics provides Prometheus metrics for the schema registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the schema registry.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Schema metrics
	SubjectsTotal      prometheus.Gauge
	SchemaVersions     *prometheus.GaugeVec
	RegistrationsTotal *prometheus.CounterVec

	// Compatibility metrics
	CompatibilityChecks *prometheus.CounterVec
	CompatibilityErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema_registry_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema_registry_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.SubjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema_registry_subjects_total",
			Help: "Total number of subjects",
		},
	)

	m.SchemaVersions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schema_registry_schema_versions",
			Help: "Number of versions per subject",
		},
		[]string{"subject"},
	)

	m.RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_registrations_total",
			Help: "Total number of schema registrations",
		},
		[]string{"status"},
	)

	m.CompatibilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_compatibility_checks_total",
			Help: "Total number of compatibility checks",
		},
		[]string{"level", "result"},
	)

	m.CompatibilityErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_compatibility_errors_total",
			Help: "Total number of compatibility check errors",
		},
		[]string{"level"},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.SubjectsTotal,
		m.SchemaVersions,
		m.RegistrationsTotal,
		m.CompatibilityChecks,
		m.CompatibilityErrors,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes a URL path to reduce label cardinality. The route
// table is flat: no context-scoped or mode routes to collapse.
func normalizePath(path string) string {
	switch {
	case startsWith(path, "/subjects/") && contains(path, "/versions/"):
		return "/subjects/{subject}/versions/{version}"
	case startsWith(path, "/subjects/") && endsWith(path, "/versions"):
		return "/subjects/{subject}/versions"
	case startsWith(path, "/subjects/"):
		return "/subjects/{subject}"
	case startsWith(path, "/schemas/ids/"):
		return "/schemas/ids/{id}"
	case startsWith(path, "/compatibility/subjects/"):
		return "/compatibility/subjects/{subject}/versions/{version}"
	case startsWith(path, "/config/"):
		return "/config/{subject}"
	}
	return path
}

func startsWith(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func endsWith(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// RecordSchemaRegistration records a schema registration attempt.
func (m *Metrics) RecordSchemaRegistration(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.RegistrationsTotal.WithLabelValues(status).Inc()
}

// RecordCompatibilityCheck records a compatibility check result.
func (m *Metrics) RecordCompatibilityCheck(level string, compatible bool) {
	result := "compatible"
	if !compatible {
		result = "incompatible"
	}
	m.CompatibilityChecks.WithLabelValues(level, result).Inc()
}

// RecordCompatibilityError records a failure to even evaluate a
// compatibility check (a stored historical schema that failed to parse),
// distinct from a check that ran and found the candidate incompatible.
func (m *Metrics) RecordCompatibilityError(level string) {
	m.CompatibilityErrors.WithLabelValues(level).Inc()
}

// UpdateSubjectCount updates the subject count gauge.
func (m *Metrics) UpdateSubjectCount(count float64) {
	m.SubjectsTotal.Set(count)
}

// UpdateSchemaVersions updates the version-count gauge for a subject.
func (m *Metrics) UpdateSchemaVersions(subject string, count float64) {
	m.SchemaVersions.WithLabelValues(subject).Set(count)
}
