package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics holds the Prometheus metrics for the HTTP API.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewHTTPMetrics creates a metrics instance with its own registry.
func NewHTTPMetrics() *HTTPMetrics {
	registry := prometheus.NewRegistry()

	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm2slm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm2slm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		requestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm2slm_http_request_errors_total",
				Help: "Total number of HTTP requests answered with an error code",
			},
			[]string{"method", "endpoint", "error_code"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.requestErrors,
	)

	return m
}

// RecordRequest records one completed HTTP request.
func (m *HTTPMetrics) RecordRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRequestError records a request answered with a machine-readable error code.
func (m *HTTPMetrics) RecordRequestError(method, endpoint, errorCode string) {
	m.requestErrors.WithLabelValues(method, endpoint, errorCode).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *HTTPMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *HTTPMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request metrics around next.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordRequest(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// endpointName normalizes the path into a bounded label value.
func endpointName(path string) string {
	switch path {
	case "/health":
		return "health"
	case "/convert":
		return "convert"
	case "/anonymize":
		return "anonymize"
	case "/filter":
		return "filter"
	case "/validate":
		return "validate"
	case "/privacy/status":
		return "privacy_status"
	case "/audit/summary":
		return "audit_summary"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
