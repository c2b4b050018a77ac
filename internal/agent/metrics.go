package agent

import (
	"github.com/nlagent/nlagentd/internal/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wires the dispatcher's observable state into a prometheus
// registry: one connection-state gauge per role, one event counter per
// (role, event kind) pair, and a reinit counter.
type Metrics struct {
	connState *prometheus.GaugeVec
	events    *prometheus.CounterVec
	reinits   prometheus.Counter
}

// NewMetrics registers the dispatcher's metric families on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nlagent",
			Name:      "module_connection_state",
			Help:      "1 if the module's connection state is UP, 0 if DOWN.",
		}, []string{"module"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlagent",
			Name:      "events_total",
			Help:      "Events delivered to a module's notify entry point, by kind.",
		}, []string{"module", "event"}),
		reinits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nlagent",
			Name:      "reinit_total",
			Help:      "Global reinit cycles triggered by a connection-down edge.",
		}),
	}
	reg.MustRegister(m.connState, m.events, m.reinits)
	return m
}

func (m *Metrics) SetConnState(mod config.ModuleID, s ConnState) {
	v := 0.0
	if s == Up {
		v = 1.0
	}
	m.connState.WithLabelValues(mod.String()).Set(v)
}

func (m *Metrics) IncEvent(mod config.ModuleID, kind config.EventKind) {
	m.events.WithLabelValues(mod.String(), kind.String()).Inc()
}

func (m *Metrics) IncReinit() {
	m.reinits.Inc()
}
