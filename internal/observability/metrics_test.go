package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveProbe("http://x", true)
		m.ObserveCheck("ram", false)
		m.ObserveDiagnostics("OK", true)
		m.ObserveSidecarEvent("ollama", "stdout")
		m.SetLiveSidecars(2)
		m.ObserveDroppedEvent()
		m.ObserveBackendRequest("evaluate", "ok")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()

	m.ObserveProbe("http://x/health", false)
	m.ObserveProbe("http://x/health", false)
	m.ObserveProbe("http://x/health", true)
	m.ObserveDiagnostics("OK", true)
	m.ObserveDroppedEvent()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProbeAttempts.WithLabelValues("http://x/health", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeAttempts.WithLabelValues("http://x/health", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadinessGate))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))

	m.ObserveDiagnostics("ERROR", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ReadinessGate))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.SetLiveSidecars(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sidecar_supervisor_sidecar_live 2")
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func TestMetrics_RegistryGather(t *testing.T) {
	m := NewMetrics()
	m.ObserveCheck("ram", true)
	m.ObserveCheck("backend", false)
	m.ObserveSidecarEvent("ollama", "stderr")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	checks := findFamily(families, "sidecar_supervisor_diagnostics_check_results_total")
	require.NotNil(t, checks)
	assert.Equal(t, dto.MetricType_COUNTER, checks.GetType())
	assert.Len(t, checks.GetMetric(), 2)

	sidecarEvents := findFamily(families, "sidecar_supervisor_sidecar_events_total")
	require.NotNil(t, sidecarEvents)
	require.Len(t, sidecarEvents.GetMetric(), 1)
	labels := map[string]string{}
	for _, pair := range sidecarEvents.GetMetric()[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	assert.Equal(t, map[string]string{"sidecar": "ollama", "kind": "stderr"}, labels)

	assert.NotNil(t, findFamily(families, "go_goroutines"), "runtime collectors are registered")
}
