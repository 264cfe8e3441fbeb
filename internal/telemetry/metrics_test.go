package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIsolatedPerInstance(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.TraceCount.Set(42)
	b.TraceCount.Set(7)

	assert.InDelta(t, 42.0, testutil.ToFloat64(a.TraceCount), 1e-9)
	assert.InDelta(t, 7.0, testutil.ToFloat64(b.TraceCount), 1e-9)
}

func TestSignalCounterByType(t *testing.T) {
	m := NewMetrics()

	m.SignalsTotal.WithLabelValues("explicit").Inc()
	m.SignalsTotal.WithLabelValues("explicit").Inc()
	m.SignalsTotal.WithLabelValues("usage").Inc()

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("explicit")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("usage")), 1e-9)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("outcome")), 1e-9)
}

func TestHandlerServesExposition(t *testing.T) {
	m := NewMetrics()
	m.TraceCount.Set(3)
	m.ConsolidationRuns.WithLabelValues("success").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "duri_memory_traces 3")
	assert.Contains(t, body, `duri_consolidate_runs_total{result="success"} 1`)
}
