package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cesvault_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cesvault_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks currently active sessions by sandbox kind
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cesvault_active_sessions",
			Help: "Number of active interpreter sessions",
		},
		[]string{"sandbox_kind"},
	)

	// SessionDuration tracks how long sessions run before being stopped
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cesvault_session_duration_seconds",
			Help:    "Session lifetime in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"stop_reason"},
	)

	// ExecutionsTotal counts code executions by outcome
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cesvault_executions_total",
			Help: "Total number of code executions",
		},
		[]string{"status"},
	)

	// ExecutionDuration tracks how long an execution takes to complete
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cesvault_execution_duration_seconds",
			Help:    "Execution duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// StreamEventDrops tracks output events the SSE stream could not send
	// because they failed to encode. Hub-side drops (a full subscriber queue
	// or a ring overwrite) are not counted here.
	StreamEventDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cesvault_stream_event_drops_total",
			Help: "Total number of stream events the SSE stream failed to encode and skipped",
		},
		[]string{"session_id"},
	)

	// SandboxesRunning tracks live sandbox processes/containers by kind
	SandboxesRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cesvault_sandboxes_running",
			Help: "Number of running interpreter sandboxes",
		},
		[]string{"kind"},
	)

	// IdleSweeps counts sessions reaped by the idle-timeout sweeper
	IdleSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cesvault_idle_sweeps_total",
			Help: "Total number of sessions stopped by the idle sweep",
		},
		[]string{},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath collapses path parameters to avoid high-cardinality labels,
// e.g. /sessions/<id>/execute -> /sessions/:id/execute. An /api/v1 prefix
// is kept and the rest of the path is normalized the same way.
func normalizePath(path string) string {
	const apiPrefix = "/api/v1"
	if rest := strings.TrimPrefix(path, apiPrefix); rest != path && strings.HasPrefix(rest, "/") {
		return apiPrefix + normalizePath(rest)
	}
	switch path {
	case "/health", "/metrics", "/sessions":
		return path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		_ = p
		if i == 1 && parts[0] == "sessions" {
			parts[i] = ":id"
		}
		if i == 3 && parts[0] == "sessions" && (parts[2] == "execute") {
			parts[i] = ":exec_id"
		}
		if i == 3 && parts[0] == "sessions" && parts[2] == "artifacts" {
			parts[i] = ":file"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStart increments the active session gauge for sandboxKind.
func RecordSessionStart(sandboxKind string) {
	ActiveSessions.WithLabelValues(sandboxKind).Inc()
	SandboxesRunning.WithLabelValues(sandboxKind).Inc()
}

// RecordSessionEnd decrements the active session gauge and records its
// lifetime.
func RecordSessionEnd(sandboxKind, stopReason string, lifetimeSeconds float64) {
	ActiveSessions.WithLabelValues(sandboxKind).Dec()
	SandboxesRunning.WithLabelValues(sandboxKind).Dec()
	SessionDuration.WithLabelValues(stopReason).Observe(lifetimeSeconds)
}

// RecordExecution records an execution's outcome and duration.
func RecordExecution(status string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordStreamDrop records a dropped stream event for a session.
func RecordStreamDrop(sessionID string) {
	StreamEventDrops.WithLabelValues(sessionID).Inc()
}

// RecordIdleSweep records one session stopped by the idle sweep.
func RecordIdleSweep() {
	IdleSweeps.WithLabelValues().Inc()
}
