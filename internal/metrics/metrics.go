package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Accept path
	MessagesAcceptedTotal    prometheus.Counter
	MessagesRateLimitedTotal prometheus.Counter
	MessagesRejectedTotal    *prometheus.CounterVec

	// Delivery path
	MessagesDeliveredTotal prometheus.Counter
	MessagesFailedTotal    prometheus.Counter

	// Spool gauges
	SpoolPending prometheus.Gauge
	SpoolFailed  prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered on its
// own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesAcceptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailgate_messages_accepted_total",
				Help: "Total number of accepted send requests",
			},
		),
		MessagesRateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailgate_messages_rate_limited_total",
				Help: "Total number of send requests denied by the daily quota",
			},
		),
		MessagesRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailgate_messages_rejected_total",
				Help: "Total number of rejected send requests",
			},
			[]string{"reason"},
		),
		MessagesDeliveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailgate_messages_delivered_total",
				Help: "Total number of messages relayed to the smarthost",
			},
		),
		MessagesFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailgate_messages_failed_total",
				Help: "Total number of messages that failed delivery",
			},
		),
		SpoolPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailgate_spool_pending",
				Help: "Number of messages awaiting delivery",
			},
		),
		SpoolFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailgate_spool_failed",
				Help: "Number of messages in terminal failed state",
			},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailgate_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailgate_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailgate_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailgate_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesAcceptedTotal,
		m.MessagesRateLimitedTotal,
		m.MessagesRejectedTotal,
		m.MessagesDeliveredTotal,
		m.MessagesFailedTotal,
		m.SpoolPending,
		m.SpoolFailed,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// DeliverySucceeded records a successful delivery. Satisfies the
// processor's observer interface.
func (m *Metrics) DeliverySucceeded() {
	m.MessagesDeliveredTotal.Inc()
}

// DeliveryFailed records a terminally failed delivery
func (m *Metrics) DeliveryFailed() {
	m.MessagesFailedTotal.Inc()
}

// IncAccepted records an accepted send request
func (m *Metrics) IncAccepted() {
	m.MessagesAcceptedTotal.Inc()
}

// IncRateLimited records a quota denial
func (m *Metrics) IncRateLimited() {
	m.MessagesRateLimitedTotal.Inc()
}

// IncRejected records a rejected send request by reason
func (m *Metrics) IncRejected(reason string) {
	m.MessagesRejectedTotal.WithLabelValues(reason).Inc()
}

// SetSpoolStats updates the spool gauges
func (m *Metrics) SetSpoolStats(pending, failed int64) {
	m.SpoolPending.Set(float64(pending))
	m.SpoolFailed.Set(float64(failed))
}
