// Package metrics provides Prometheus metrics for the reply daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	RepliesTotal        *prometheus.CounterVec
	VerdictsTotal       *prometheus.CounterVec
	SessionsActive      prometheus.Gauge
	HealthChecksTotal   *prometheus.CounterVec
	PresenceCyclesTotal prometheus.Counter
	TransportErrors     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RepliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyd_replies_total",
				Help: "Total auto-replies by surface and result.",
			},
			[]string{"surface", "result"},
		),
		VerdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyd_classifier_verdicts_total",
				Help: "Classifier verdicts by outcome.",
			},
			[]string{"verdict"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "replyd_sessions_active",
				Help: "Number of registered sessions.",
			},
		),
		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyd_health_checks_total",
				Help: "Health check outcomes per pass.",
			},
			[]string{"outcome"},
		),
		PresenceCyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "replyd_presence_cycles_total",
				Help: "Completed presence cycler walks.",
			},
		),
		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyd_transport_errors_total",
				Help: "Transport call failures by operation and kind.",
			},
			[]string{"op", "kind"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RepliesTotal)
	reg.MustRegister(m.VerdictsTotal)
	reg.MustRegister(m.SessionsActive)
	reg.MustRegister(m.HealthChecksTotal)
	reg.MustRegister(m.PresenceCyclesTotal)
	reg.MustRegister(m.TransportErrors)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordReply increments the reply counter.
func (m *Metrics) RecordReply(surface, result string) {
	m.RepliesTotal.WithLabelValues(surface, result).Inc()
}

// RecordVerdict increments the verdict counter.
func (m *Metrics) RecordVerdict(verdict string) {
	m.VerdictsTotal.WithLabelValues(verdict).Inc()
}

// RecordHealthCheck increments the health outcome counter.
func (m *Metrics) RecordHealthCheck(outcome string) {
	m.HealthChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordTransportError increments the transport error counter.
func (m *Metrics) RecordTransportError(op, kind string) {
	m.TransportErrors.WithLabelValues(op, kind).Inc()
}
