package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// ActiveUsageRatio tracks the used-quota ratio of the active credential
	ActiveUsageRatio prometheus.Gauge
	// ReservePoolSize tracks the number of credentials in the reserve pool
	ReservePoolSize prometheus.Gauge
	// ChecksTotal counts usage checks by operation class and outcome
	ChecksTotal *prometheus.CounterVec
	// FailoversTotal counts failover attempts by trigger and outcome
	FailoversTotal *prometheus.CounterVec
	// ImportsTotal counts imported lines by result
	ImportsTotal *prometheus.CounterVec
	// TokenRefreshesTotal counts transparent token refreshes by outcome
	TokenRefreshesTotal *prometheus.CounterVec
	// StoreWriteFailures counts failed document writes by document
	StoreWriteFailures *prometheus.CounterVec
	// QueryLatency tracks remote usage query latency
	QueryLatency prometheus.Histogram
	// HTTPRequestsTotal total HTTP requests against the API surface
	HTTPRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ActiveUsageRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_usage_ratio",
				Help:      "Used-quota ratio of the active credential (-1 when the last query failed)",
			},
		),
		ReservePoolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reserve_pool_size",
				Help:      "Number of credentials in the reserve pool",
			},
		),
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total usage checks by operation class and outcome",
			},
			[]string{"op", "outcome"},
		),
		FailoversTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failovers_total",
				Help:      "Total failover attempts by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		ImportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_total",
				Help:      "Total imported credential lines by result",
			},
			[]string{"result"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total transparent token refreshes by outcome",
			},
			[]string{"outcome"},
		),
		StoreWriteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_write_failures_total",
				Help:      "Total failed durable store writes by document",
			},
			[]string{"document"},
		),
		QueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_latency_seconds",
				Help:      "Remote usage query latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests against the API",
			},
			[]string{"endpoint", "method", "status"},
		),
	}

	registry.MustRegister(
		m.ActiveUsageRatio,
		m.ReservePoolSize,
		m.ChecksTotal,
		m.FailoversTotal,
		m.ImportsTotal,
		m.TokenRefreshesTotal,
		m.StoreWriteFailures,
		m.QueryLatency,
		m.HTTPRequestsTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCheck records a usage check outcome. Nil-safe.
func (m *Metrics) RecordCheck(op, outcome string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(op, outcome).Inc()
}

// RecordFailover records a failover attempt outcome. Nil-safe.
func (m *Metrics) RecordFailover(trigger, outcome string) {
	if m == nil {
		return
	}
	m.FailoversTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordImport records import results. Nil-safe.
func (m *Metrics) RecordImport(added, skipped int) {
	if m == nil {
		return
	}
	m.ImportsTotal.WithLabelValues("added").Add(float64(added))
	m.ImportsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordRefresh records a transparent token refresh outcome. Nil-safe.
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordStoreWriteFailure records a failed document write. Nil-safe.
func (m *Metrics) RecordStoreWriteFailure(document string) {
	if m == nil {
		return
	}
	m.StoreWriteFailures.WithLabelValues(document).Inc()
}

// SetActiveRatio updates the active usage gauge. Nil-safe.
func (m *Metrics) SetActiveRatio(ratio float64) {
	if m == nil {
		return
	}
	m.ActiveUsageRatio.Set(ratio)
}

// SetReserveSize updates the reserve pool size gauge. Nil-safe.
func (m *Metrics) SetReserveSize(n int) {
	if m == nil {
		return
	}
	m.ReservePoolSize.Set(float64(n))
}

// ObserveQueryLatency records a remote query duration in seconds. Nil-safe.
func (m *Metrics) ObserveQueryLatency(seconds float64) {
	if m == nil {
		return
	}
	m.QueryLatency.Observe(seconds)
}
