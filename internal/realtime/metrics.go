package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections  *prometheus.GaugeVec
	envelopes    *prometheus.CounterVec
	authFailures *prometheus.CounterVec
	dropped      *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg builds unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "buykoins",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open authenticated connections per namespace.",
		}, []string{"namespace"}),
		envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buykoins",
			Subsystem: "gateway",
			Name:      "envelopes_total",
			Help:      "Client envelopes handled per namespace and type.",
		}, []string{"namespace", "type"}),
		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buykoins",
			Subsystem: "gateway",
			Name:      "auth_failures_total",
			Help:      "Rejected handshakes per namespace and code.",
		}, []string{"namespace", "code"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buykoins",
			Subsystem: "gateway",
			Name:      "dropped_envelopes_total",
			Help:      "Server pushes dropped because a client queue was full.",
		}, []string{"namespace"}),
	}
}

func (m *Metrics) connected(ns string, delta float64) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(ns).Add(delta)
}

func (m *Metrics) envelope(ns, typ string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(ns, typ).Inc()
}

func (m *Metrics) authFailure(ns, code string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(ns, code).Inc()
}

func (m *Metrics) drop(ns string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.WithLabelValues(ns).Add(float64(n))
}
