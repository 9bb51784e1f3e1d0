package presence

import "github.com/prometheus/client_golang/prometheus"

const namespace = "relay"

type Metrics struct {
	Connections   prometheus.Gauge
	Users         prometheus.Gauge
	Registrations *prometheus.CounterVec // outcome
	Routed        *prometheus.CounterVec // mode, outcome
	Frames        *prometheus.CounterVec // event
	Broadcasts    prometheus.Counter
}

// NewMetrics builds the relay collectors and registers them on reg when reg
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open transport connections.",
		}),
		Users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "registered_users",
			Help: "Entries in the connection registry.",
		}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_routed_total",
			Help: "Per-recipient routing results.",
		}, []string{"mode", "outcome"}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total",
			Help: "Inbound frames by event.",
		}, []string{"event"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "presence_broadcasts_total",
			Help: "Presence snapshots pushed to all transports.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Users, m.Registrations, m.Routed, m.Frames, m.Broadcasts)
	}
	return m
}

func (m *Metrics) routed(mode string, d Delivery) {
	m.Routed.WithLabelValues(mode, "delivered").Add(float64(d.Delivered))
	m.Routed.WithLabelValues(mode, "dropped").Add(float64(d.Dropped))
}
