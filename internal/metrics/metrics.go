package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsbell_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsbell_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	alertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsbell_alerts_created_total",
			Help: "Alerts accepted by category and priority",
		},
		[]string{"category", "priority"},
	)

	alertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsbell_alerts_suppressed_total",
			Help: "Alerts rejected by policy, by category and reason",
		},
		[]string{"category", "reason"},
	)

	alertsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsbell_alerts_evicted_total",
			Help: "Alerts dropped from the tail when the retention cap is hit",
		},
	)

	alertsAutoRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsbell_alerts_auto_read_total",
			Help: "Alerts marked read by the auto-read timer",
		},
	)

	streamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsbell_stream_subscribers",
			Help: "Currently registered alert snapshot subscribers",
		},
	)

	escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsbell_escalations_total",
			Help: "Critical alert escalations by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	ingestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsbell_ingested_events_total",
			Help: "Queue events consumed, by outcome",
		},
		[]string{"outcome"},
	)

	settingsRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsbell_settings_refreshes_total",
			Help: "Settings snapshot refreshes by outcome",
		},
		[]string{"outcome"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsbell_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"key"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAlertCreated records an accepted alert
func RecordAlertCreated(category, priority string) {
	alertsCreated.WithLabelValues(category, priority).Inc()
}

// RecordAlertSuppressed records a policy rejection
func RecordAlertSuppressed(category, reason string) {
	alertsSuppressed.WithLabelValues(category, reason).Inc()
}

// RecordAlertEvicted records a retention-cap eviction
func RecordAlertEvicted() {
	alertsEvicted.Inc()
}

// RecordAutoRead records an auto-read timer firing
func RecordAutoRead() {
	alertsAutoRead.Inc()
}

// SetSubscribers sets the current subscriber count
func SetSubscribers(count int) {
	streamSubscribers.Set(float64(count))
}

// RecordEscalation records an escalation attempt outcome ("sent", "failed", "rejected")
func RecordEscalation(target, outcome string) {
	escalationsTotal.WithLabelValues(target, outcome).Inc()
}

// RecordIngested records a consumed queue event outcome ("accepted", "suppressed", "malformed")
func RecordIngested(outcome string) {
	ingestedTotal.WithLabelValues(outcome).Inc()
}

// RecordSettingsRefresh records a settings refresh outcome ("ok", "error")
func RecordSettingsRefresh(outcome string) {
	settingsRefreshes.WithLabelValues(outcome).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
