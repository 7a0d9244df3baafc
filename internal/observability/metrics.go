package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sidecar_supervisor"

// Metrics holds the Prometheus collectors shared by supervisor components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ProbeAttempts   *prometheus.CounterVec
	CheckResults    *prometheus.CounterVec
	DiagnosticsRuns *prometheus.CounterVec
	ReadinessGate   prometheus.Gauge
	SidecarEvents   *prometheus.CounterVec
	LiveSidecars    prometheus.Gauge
	EventsDropped   prometheus.Counter
	BackendRequests *prometheus.CounterVec
}

// NewMetrics creates collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ProbeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Total number of readiness probe attempts",
		}, []string{"url", "result"}),
		CheckResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diagnostics",
			Name:      "check_results_total",
			Help:      "Diagnostic check outcomes by check name",
		}, []string{"check", "passed"}),
		DiagnosticsRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diagnostics",
			Name:      "runs_total",
			Help:      "Completed diagnostics runs by aggregate status",
		}, []string{"status"}),
		ReadinessGate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readiness_gate",
			Help:      "Current readiness gate (1=open, 0=closed)",
		}),
		SidecarEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sidecar",
			Name:      "events_total",
			Help:      "Lifecycle events published per sidecar",
		}, []string{"sidecar", "kind"}),
		LiveSidecars: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sidecar",
			Name:      "live",
			Help:      "Number of supervised processes not yet terminated",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber queue was full",
		}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Proxied backend requests by operation and outcome",
		}, []string{"operation", "outcome"}),
	}

	m.registry.MustRegister(
		m.ProbeAttempts,
		m.CheckResults,
		m.DiagnosticsRuns,
		m.ReadinessGate,
		m.SidecarEvents,
		m.LiveSidecars,
		m.EventsDropped,
		m.BackendRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe records one probe attempt.
func (m *Metrics) ObserveProbe(url string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.ProbeAttempts.WithLabelValues(url, result).Inc()
}

// ObserveCheck records one check verdict.
func (m *Metrics) ObserveCheck(name string, passed bool) {
	if m == nil {
		return
	}
	m.CheckResults.WithLabelValues(name, boolLabel(passed)).Inc()
}

// ObserveDiagnostics records a completed run and the resulting gate.
func (m *Metrics) ObserveDiagnostics(status string, gate bool) {
	if m == nil {
		return
	}
	m.DiagnosticsRuns.WithLabelValues(status).Inc()
	if gate {
		m.ReadinessGate.Set(1)
	} else {
		m.ReadinessGate.Set(0)
	}
}

// ObserveSidecarEvent counts one published lifecycle event.
func (m *Metrics) ObserveSidecarEvent(sidecar, kind string) {
	if m == nil {
		return
	}
	m.SidecarEvents.WithLabelValues(sidecar, kind).Inc()
}

// SetLiveSidecars updates the live process gauge.
func (m *Metrics) SetLiveSidecars(n int) {
	if m == nil {
		return
	}
	m.LiveSidecars.Set(float64(n))
}

// ObserveDroppedEvent counts one dropped subscriber delivery.
func (m *Metrics) ObserveDroppedEvent() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// ObserveBackendRequest counts one proxied request.
func (m *Metrics) ObserveBackendRequest(operation, outcome string) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(operation, outcome).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
