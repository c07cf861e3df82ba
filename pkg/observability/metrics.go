package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awiblog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "awiblog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Governance metrics
	rateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awiblog_ratelimit_decisions_total",
			Help: "Total number of rate limit decisions",
		},
		[]string{"operation", "outcome"},
	)

	sessionOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awiblog_session_operations_total",
			Help: "Total number of session store operations",
		},
		[]string{"operation", "status"},
	)

	sessionOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "awiblog_session_operation_duration_seconds",
			Help:    "Session store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	queryCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awiblog_query_cache_lookups_total",
			Help: "Total number of query cache lookups",
		},
		[]string{"result"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "awiblog_active_sessions",
			Help: "Number of sessions created minus sessions ended",
		},
	)

	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awiblog_reputation_violations_total",
			Help: "Total number of recorded reputation violations",
		},
		[]string{"severity"},
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus metrics.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			rateLimitDecisionsTotal,
			sessionOperationsTotal,
			sessionOperationDuration,
			queryCacheLookupsTotal,
			activeSessions,
			violationsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimitDecision records an admission decision. The outcome is
// "allowed" or the denial reason.
func RecordRateLimitDecision(operation, outcome string) {
	rateLimitDecisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordSessionOperation records a session store operation.
func RecordSessionOperation(operation, status string, duration time.Duration) {
	sessionOperationsTotal.WithLabelValues(operation, status).Inc()
	sessionOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheLookup records a query cache lookup ("hit" or "miss").
func RecordCacheLookup(result string) {
	queryCacheLookupsTotal.WithLabelValues(result).Inc()
}

// SessionStarted increments the active session gauge.
func SessionStarted() {
	activeSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func SessionEnded() {
	activeSessions.Dec()
}

// RecordViolation records a reputation violation by severity.
func RecordViolation(severity string) {
	violationsTotal.WithLabelValues(severity).Inc()
}
