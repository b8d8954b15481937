// Package metrics provides Prometheus metrics collection for the application.
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

// Status label values.
const (
	statusSuccess = "success"
	statusFailure = "failure"

	resultDelivered = "delivered"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Lead metrics
	SubmissionsTotal   *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec

	// Automation metrics
	AutomationOutcomesTotal *prometheus.CounterVec
	AutomationDuration      *prometheus.HistogramVec
	DispatchesInFlight      prometheus.Gauge

	// Chat assistant metrics
	ChatSessionsActive  prometheus.Gauge
	ChatSessionsCreated prometheus.Counter
	ChatTurnsTotal      *prometheus.CounterVec

	// External service metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Registry used for this metrics instance (nil means default registry)
	registry prometheus.Gatherer
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() *Metrics {
	m := newMetricsWithRegistry(prometheus.DefaultRegisterer)
	m.registry = prometheus.DefaultGatherer
	return m
}

// NewMetricsWithRegistry creates metrics using a custom registry (for testing).
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := newMetricsWithRegistry(reg)
	m.registry = reg
	return m
}

func newMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teslabot_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teslabot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teslabot_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teslabot_submissions_total",
				Help: "Contact submissions by source and status",
			},
			[]string{"source", "status"}, // source: "form", "chat"
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teslabot_validation_failures_total",
				Help: "Rejected contact form fields",
			},
			[]string{"field"},
		),

		AutomationOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teslabot_automation_outcomes_total",
				Help: "Automation channel outcomes by channel and result",
			},
			[]string{"channel", "result"}, // result: "delivered", "failed", "skipped"
		),
		AutomationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teslabot_automation_duration_seconds",
				Help:    "Duration of automation channel calls",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),
		DispatchesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teslabot_dispatches_in_flight",
				Help: "Automation dispatches currently running",
			},
		),

		ChatSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teslabot_chat_sessions_active",
				Help: "Number of stored chat sessions",
			},
		),
		ChatSessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "teslabot_chat_sessions_created_total",
				Help: "Total number of chat sessions opened",
			},
		),
		ChatTurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teslabot_chat_turns_total",
				Help: "Chat inputs handled by resulting stage and outcome",
			},
			[]string{"stage", "outcome"}, // outcome: "recognized", "acknowledged", "reprompt", "fallback"
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "teslabot_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teslabot_circuit_breaker_trips_total",
				Help: "Total number of times a circuit breaker has opened",
			},
			[]string{"service"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teslabot_db_query_duration_seconds",
				Help:    "Duration of database queries",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"}, // "select", "insert", "update", "delete"
		),
		DBQueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teslabot_db_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"operation"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teslabot_rate_limit_hits_total",
				Help: "Total number of rate limit hits by limiter",
			},
			[]string{"limiter"},
		),
	}
}

// Handler returns the Prometheus HTTP handler for scraping metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware returns an HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// normalizePath collapses session ids so labels keep a bounded cardinality.
func normalizePath(path string) string {
	const sessions = "/api/chat/sessions/"
	if rest, ok := strings.CutPrefix(path, sessions); ok && rest != "" {
		if strings.HasSuffix(rest, "/messages") {
			return sessions + ":id/messages"
		}
		return sessions + ":id"
	}
	return path
}

// RecordSubmission records a contact submission attempt.
func (m *Metrics) RecordSubmission(source string, success bool) {
	status := statusFailure
	if success {
		status = statusSuccess
	}
	m.SubmissionsTotal.WithLabelValues(source, status).Inc()
}

// RecordValidationFailure records a rejected form field.
func (m *Metrics) RecordValidationFailure(field string) {
	m.ValidationFailures.WithLabelValues(field).Inc()
}

// RecordAutomationOutcome records the result of one automation channel.
func (m *Metrics) RecordAutomationOutcome(channel string, delivered, skipped bool, duration time.Duration) {
	result := resultFailed
	switch {
	case skipped:
		result = resultSkipped
	case delivered:
		result = resultDelivered
	}
	m.AutomationOutcomesTotal.WithLabelValues(channel, result).Inc()
	if !skipped {
		m.AutomationDuration.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

// DispatchStarted and DispatchFinished track running dispatches.
func (m *Metrics) DispatchStarted()  { m.DispatchesInFlight.Inc() }
func (m *Metrics) DispatchFinished() { m.DispatchesInFlight.Dec() }

// RecordChatSessionCreated records a newly opened chat session.
func (m *Metrics) RecordChatSessionCreated() {
	m.ChatSessionsCreated.Inc()
}

// SetActiveChatSessions sets the number of stored chat sessions.
func (m *Metrics) SetActiveChatSessions(count int) {
	m.ChatSessionsActive.Set(float64(count))
}

// RecordChatTurn records one handled chat input.
func (m *Metrics) RecordChatTurn(stage, outcome string) {
	m.ChatTurnsTotal.WithLabelValues(stage, outcome).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
	if state == 2 {
		m.CircuitBreakerTrips.WithLabelValues(service).Inc()
	}
}

// RecordDBQuery records a database query.
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration, err error) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limiter string) {
	m.RateLimitHitsTotal.WithLabelValues(limiter).Inc()
}
