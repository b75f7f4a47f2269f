// Package metrics exposes the engine's Prometheus metrics on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teilomillet/lectern/completion"
)

var _ completion.Observer = (*Metrics)(nil)

// Metrics encapsulates Prometheus metrics for the engine and its HTTP boundary.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec

	CompletionAttempts *prometheus.CounterVec
	CompletionRetries  prometheus.Counter
	RetryDelay         prometheus.Histogram
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	StrategyWins       *prometheus.CounterVec
	ContinuationCalls  *prometheus.HistogramVec
	ContinuationStops  *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	AuditFailures      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lectern_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_rate_limit_hits_total",
				Help: "Total number of rate limit hits by client",
			},
			[]string{"client"},
		),
		CompletionAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_completion_attempts_total",
				Help: "Completion calls by outcome",
			},
			[]string{"outcome"},
		),
		CompletionRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lectern_completion_retries_total",
				Help: "Completion calls retried after a transient failure",
			},
		),
		RetryDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lectern_completion_retry_delay_seconds",
				Help:    "Backoff delay before each retry",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lectern_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_circuit_breaker_transitions_total",
				Help: "Circuit breaker state changes",
			},
			[]string{"name", "from", "to"},
		),
		StrategyWins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_extraction_strategy_total",
				Help: "Records produced by each extraction strategy",
			},
			[]string{"schema", "strategy"},
		),
		ContinuationCalls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_generation_calls",
				Help:    "Completion calls per generation, continuations included",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
			},
			[]string{"schema"},
		),
		ContinuationStops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_continuation_stops_total",
				Help: "Continuation loops by stop reason",
			},
			[]string{"reason"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_generation_duration_seconds",
				Help:    "End-to-end generation time",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"schema"},
		),
		AuditFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_audit_failures_total",
				Help: "Audit records that could not be persisted",
			},
			[]string{"sink"},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m.RequestsTotal.WithLabelValues("/health", "200").Add(0)
	m.RequestsTotal.WithLabelValues("/metrics", "200").Add(0)
	m.BreakerState.WithLabelValues("completion").Set(0)

	return m
}

// ObserveAttempt implements completion.Observer.
func (m *Metrics) ObserveAttempt(outcome string) {
	m.CompletionAttempts.WithLabelValues(outcome).Inc()
}

// ObserveRetry implements completion.Observer.
func (m *Metrics) ObserveRetry(delay time.Duration) {
	m.CompletionRetries.Inc()
	m.RetryDelay.Observe(delay.Seconds())
}

// ObserveBreakerState implements completion.Observer.
func (m *Metrics) ObserveBreakerState(name, from, to string) {
	m.BreakerTransitions.WithLabelValues(name, from, to).Inc()
	var v float64
	switch to {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}

// ObserveGeneration records the outcome of one generation request.
func (m *Metrics) ObserveGeneration(schema, strategy string, calls int, stop string, d time.Duration) {
	if strategy != "" {
		m.StrategyWins.WithLabelValues(schema, strategy).Inc()
	}
	m.ContinuationCalls.WithLabelValues(schema).Observe(float64(calls))
	if stop != "" {
		m.ContinuationStops.WithLabelValues(stop).Inc()
	}
	m.GenerationDuration.WithLabelValues(schema).Observe(d.Seconds())
}

// ObserveAuditFailure counts an audit write that failed.
func (m *Metrics) ObserveAuditFailure(sink string) {
	m.AuditFailures.WithLabelValues(sink).Inc()
	m.ErrorsTotal.WithLabelValues("persistence_error").Inc()
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
