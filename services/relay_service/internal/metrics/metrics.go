package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Open transport connections, announced or not.",
	})

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_users",
		Help:      "Users with at least one registered connection.",
	})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Inbound events by event name and result (ok, malformed, unknown, unregistered, conflict).",
	}, []string{"event", "result"})

	OutboundEmits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_emits_total",
		Help:      "Frames queued to connections by event name.",
	}, []string{"event"})

	PendingConfirmations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_confirmations",
		Help:      "Delivery confirmations scheduled and not yet fired.",
	})

	Confirmations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirmations_total",
		Help:      "Delivery confirmations by outcome (delivered, cancelled).",
	}, []string{"outcome"})
)

// Register 由 main 调用一次
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ConnectionsActive,
		OnlineUsers,
		InboundEvents,
		OutboundEmits,
		PendingConfirmations,
		Confirmations,
	)
}
