package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the client-side channel collectors. A nil *Metrics records nothing.
type Metrics struct {
	state          *prometheus.GaugeVec
	reconnects     *prometheus.CounterVec
	events         *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	commands       *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg builds unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "buykoins",
			Subsystem: "channel",
			Name:      "state",
			Help:      "Current transport state per namespace (1 for the active state).",
		}, []string{"namespace", "state"}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buykoins",
			Subsystem: "channel",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts per namespace.",
		}, []string{"namespace"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buykoins",
			Subsystem: "channel",
			Name:      "events_total",
			Help:      "Server pushes received per namespace and event.",
		}, []string{"namespace", "event"}),
		protocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buykoins",
			Subsystem: "channel",
			Name:      "protocol_errors_total",
			Help:      "Malformed or unexpected pushes dropped per namespace.",
		}, []string{"namespace"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buykoins",
			Subsystem: "channel",
			Name:      "commands_total",
			Help:      "Client commands per namespace, command, and result.",
		}, []string{"namespace", "command", "result"}),
	}
}

func (m *Metrics) setState(ns string, st State) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == st {
			v = 1
		}
		m.state.WithLabelValues(ns, s.String()).Set(v)
	}
}

func (m *Metrics) reconnect(ns string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(ns).Inc()
}

func (m *Metrics) event(ns, name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ns, name).Inc()
}

func (m *Metrics) protocolError(ns string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(ns).Inc()
}

func (m *Metrics) command(ns, name, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(ns, name, result).Inc()
}
