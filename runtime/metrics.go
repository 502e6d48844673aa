package runtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the runtime's process-wide counters, surfaced through
// Runtime.Metrics() per §2's "create, get, list_info, remove, shutdown,
// metrics" façade.
type Metrics struct {
	BoxesCreatedTotal  prometheus.Counter
	BoxesFailedTotal   prometheus.Counter
	BoxesRemovedTotal  prometheus.Counter
	BoxesRunning       prometheus.Gauge
	ExecutionsStarted  prometheus.Counter
	registry           *prometheus.Registry
}

// NewMetrics constructs and registers the runtime's metric set against a
// fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		BoxesCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxlite_boxes_created_total",
			Help: "Total boxes successfully created.",
		}),
		BoxesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxlite_boxes_failed_total",
			Help: "Total box creations that failed during the init pipeline.",
		}),
		BoxesRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxlite_boxes_removed_total",
			Help: "Total boxes removed.",
		}),
		BoxesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boxlite_boxes_running",
			Help: "Boxes currently in the Running state.",
		}),
		ExecutionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxlite_executions_started_total",
			Help: "Total guest executions started across all boxes.",
		}),
		registry: reg,
	}
	reg.MustRegister(m.BoxesCreatedTotal, m.BoxesFailedTotal, m.BoxesRemovedTotal, m.BoxesRunning, m.ExecutionsStarted)
	return m
}

// Registry exposes the underlying prometheus registry, e.g. for an
// http.Handler wiring a /metrics endpoint in cmd/boxlite.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
