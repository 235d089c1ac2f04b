package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hangout"

// Metrics holds the Prometheus collectors of one process. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	MessagesHandled     *prometheus.CounterVec
	ParticipantsCreated prometheus.Counter
	PlanRegenerations   *prometheus.CounterVec

	ExternalCalls    *prometheus.CounterVec
	ExternalDuration *prometheus.HistogramVec

	ActiveSessions prometheus.Gauge
	FeedDropped    prometheus.Counter
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		MessagesHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_handled_total",
				Help:      "Participant messages processed, by outcome",
			},
			[]string{"outcome"},
		),
		ParticipantsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "participants_created_total",
				Help:      "Participants added to sessions",
			},
		),
		PlanRegenerations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_regenerations_total",
				Help:      "Plan regeneration attempts, by outcome",
			},
			[]string{"outcome"},
		),
		ExternalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_calls_total",
				Help:      "Calls to the LLM and maps APIs",
			},
			[]string{"dependency", "operation", "outcome"},
		),
		ExternalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "external_call_duration_seconds",
				Help:      "Latency of calls to the LLM and maps APIs",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"dependency", "operation"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sessions held in memory",
			},
		),
		FeedDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_events_dropped_total",
				Help:      "Live feed events dropped for slow subscribers",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.MessagesHandled,
		m.ParticipantsCreated,
		m.PlanRegenerations,
		m.ExternalCalls,
		m.ExternalDuration,
		m.ActiveSessions,
		m.FeedDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveExternal records one external call. A nil receiver is a no-op.
func (m *Metrics) ObserveExternal(dependency, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ExternalCalls.WithLabelValues(dependency, operation, outcome).Inc()
	m.ExternalDuration.WithLabelValues(dependency, operation).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
