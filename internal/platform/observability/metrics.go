package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockbilling"

// Metrics is safe to use through a nil pointer; every method is a no-op then.
type Metrics struct {
	Requests           *prometheus.CounterVec
	LatencyMS          *prometheus.HistogramVec
	DebitOutcomes      *prometheus.CounterVec
	FinalizeOutcomes   *prometheus.CounterVec
	BreakerState       prometheus.Gauge
	BreakerTransitions *prometheus.CounterVec
	RemoteRetries      prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registry.
func NewMetrics(service string, reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"handler"}),
		DebitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "debit_outcomes_total",
			Help:      "Stock debit results by outcome or error kind.",
		}, []string{"outcome"}),
		FinalizeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "finalize_outcomes_total",
			Help:      "Invoice finalization results by outcome or error kind.",
		}, []string{"outcome"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "inventory_breaker_state",
			Help:      "Inventory circuit breaker state (0 closed, 1 open, 2 half open).",
		}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "inventory_breaker_transitions_total",
			Help:      "Inventory circuit breaker state transitions.",
		}, []string{"from", "to"}),
		RemoteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "inventory_retries_total",
			Help:      "Retries of calls to the inventory service.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Requests, m.LatencyMS, m.DebitOutcomes, m.FinalizeOutcomes,
		m.BreakerState, m.BreakerTransitions, m.RemoteRetries,
	)
	return m
}

func (m *Metrics) ObserveRequest(handler, status string, ms float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, status).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(ms)
}

func (m *Metrics) ObserveDebit(outcome string) {
	if m == nil {
		return
	}
	m.DebitOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFinalize(outcome string) {
	if m == nil {
		return
	}
	m.FinalizeOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBreaker(from, to string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
	m.BreakerTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.RemoteRetries.Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
