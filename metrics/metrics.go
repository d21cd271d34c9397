// Package metrics exposes connection lifecycle metrics as prometheus
// collectors via the supervisor's state listener hook.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StateCollector counts connection state transitions. It implements
// supervisor.StateListener.
type StateCollector struct {
	connects          prometheus.Counter
	disconnects       prometheus.Counter
	reconnectAttempts prometheus.Counter
	connected         prometheus.Gauge
}

// NewStateCollector creates and registers the collectors on reg.
func NewStateCollector(reg prometheus.Registerer) (*StateCollector, error) {
	c := &StateCollector{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_connects_total",
			Help: "Number of successful broker connections.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_disconnects_total",
			Help: "Number of involuntary broker disconnections.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_reconnect_attempts_total",
			Help: "Number of failed connection attempts.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_connected",
			Help: "Whether the supervisor currently owns a live connection.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.connects, c.disconnects, c.reconnectAttempts, c.connected,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// OnConnected records a successful connection.
func (c *StateCollector) OnConnected() {
	c.connects.Inc()
	c.connected.Set(1)
}

// OnDisconnected records an involuntary disconnection.
func (c *StateCollector) OnDisconnected(err error) {
	c.disconnects.Inc()
	c.connected.Set(0)
}

// OnReconnecting records a failed connection attempt.
func (c *StateCollector) OnReconnecting(attempt int) {
	c.reconnectAttempts.Inc()
}
