package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestMetricsRegistration(t *testing.T) {
	m := NewMetrics("droidpool")

	m.SetActiveRatio(0.42)
	m.SetReserveSize(3)
	m.RecordCheck("active-check", "ok")
	m.RecordFailover("auto", "success")
	m.RecordImport(2, 1)
	m.RecordRefresh("persisted")
	m.RecordStoreWriteFailure("reserve")
	m.ObserveQueryLatency(0.2)

	families := gather(t, m)

	gauge := families["droidpool_active_usage_ratio"]
	require.NotNil(t, gauge)
	assert.Equal(t, 0.42, gauge.GetMetric()[0].GetGauge().GetValue())

	size := families["droidpool_reserve_pool_size"]
	require.NotNil(t, size)
	assert.Equal(t, 3.0, size.GetMetric()[0].GetGauge().GetValue())

	checks := families["droidpool_checks_total"]
	require.NotNil(t, checks)
	metric := checks.GetMetric()[0]
	assert.Equal(t, 1.0, metric.GetCounter().GetValue())
	labels := map[string]string{}
	for _, l := range metric.GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, "active-check", labels["op"])
	assert.Equal(t, "ok", labels["outcome"])

	imports := families["droidpool_imports_total"]
	require.NotNil(t, imports)
	assert.Len(t, imports.GetMetric(), 2)

	latency := families["droidpool_query_latency_seconds"]
	require.NotNil(t, latency)
	assert.Equal(t, uint64(1), latency.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetActiveRatio(0.1)
		m.SetReserveSize(1)
		m.RecordCheck("a", "b")
		m.RecordFailover("a", "b")
		m.RecordImport(1, 1)
		m.RecordRefresh("a")
		m.RecordStoreWriteFailure("a")
		m.ObserveQueryLatency(0.1)
	})
}

func TestHandler(t *testing.T) {
	m := NewMetrics("droidpool")
	m.SetActiveRatio(0.5)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "droidpool_active_usage_ratio 0.5")
}
