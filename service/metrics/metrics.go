package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// Ledger Metrics
	transfersTotal *prometheus.CounterVec

	// WebSocket Metrics
	wsSessionsActive   prometheus.Gauge
	wsEventsTotal      *prometheus.CounterVec
	wsDeliveriesTotal  *prometheus.CounterVec
	wsTokensIssued     prometheus.Counter
	authSessionsActive prometheus.Gauge

	// Scheduler Metrics
	schedulerLapsesTotal *prometheus.CounterVec
	schedulerErrorsTotal *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// Ledger Metrics
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kromer_transfers_total",
				Help: "Total number of ledger transfers by transaction type and status",
			},
			[]string{"type", "status"},
		),

		// WebSocket Metrics
		wsSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kromer_ws_sessions_active",
				Help: "Number of connected WebSocket sessions",
			},
		),
		wsEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kromer_ws_events_total",
				Help: "Total number of events broadcast to the WebSocket hub",
			},
			[]string{"event"},
		),
		wsDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kromer_ws_deliveries_total",
				Help: "Total number of per-session event deliveries",
			},
			[]string{"event"},
		),
		wsTokensIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kromer_ws_tokens_issued_total",
				Help: "Total number of one-shot WebSocket tokens issued",
			},
		),
		authSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kromer_auth_sessions_active",
				Help: "Number of live bearer sessions",
			},
		),

		// Scheduler Metrics
		schedulerLapsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kromer_scheduler_lapses_total",
				Help: "Total number of lapsed subscriptions processed by action",
			},
			[]string{"action"},
		),
		schedulerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kromer_scheduler_errors_total",
				Help: "Total number of scheduler processing errors by reason",
			},
			[]string{"reason"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// Ledger metric helpers

// RecordTransfer records a ledger transfer attempt.
func (m *Metrics) RecordTransfer(txnType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.transfersTotal.WithLabelValues(txnType, status).Inc()
}

// WebSocket metric helpers

// RecordWSSessionChange records a WebSocket session opening (+1) or closing (-1).
func (m *Metrics) RecordWSSessionChange(delta float64) {
	m.wsSessionsActive.Add(delta)
}

// RecordWSBroadcast records one hub broadcast and how many sessions received it.
func (m *Metrics) RecordWSBroadcast(event string, receivers int) {
	m.wsEventsTotal.WithLabelValues(event).Inc()
	m.wsDeliveriesTotal.WithLabelValues(event).Add(float64(receivers))
}

// RecordWSTokenIssued records a one-shot WebSocket token being issued.
func (m *Metrics) RecordWSTokenIssued() {
	m.wsTokensIssued.Inc()
}

// SetAuthSessions records the current number of live bearer sessions.
// Fed from the registry's count on the vacuum cadence rather than on
// every register/evict, since lazy eviction makes deltas drift.
func (m *Metrics) SetAuthSessions(n float64) {
	m.authSessionsActive.Set(n)
}

// Scheduler metric helpers

// RecordSchedulerLapse records a processed lapse by its outcome.
func (m *Metrics) RecordSchedulerLapse(action string) {
	m.schedulerLapsesTotal.WithLabelValues(action).Inc()
}

// RecordSchedulerError records a scheduler processing error.
func (m *Metrics) RecordSchedulerError(reason string) {
	m.schedulerErrorsTotal.WithLabelValues(reason).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
