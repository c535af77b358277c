package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat fan-out engine.
//
// Naming convention: namespace_subsystem_name
// - namespace: chat (application-level grouping)
// - subsystem: websocket, bus, store (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, breaker state)
// - Counter: Cumulative events (frames, messages, publishes)

var (
	// ActiveConnections tracks the current number of open sockets
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// InboundFrames counts client frames by action and dispatch outcome
	InboundFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total inbound client frames processed",
	}, []string{"action", "status"})

	// MessagesPersisted counts messages written through to the store
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "store",
		Name:      "messages_persisted_total",
		Help:      "Total messages appended to the message table",
	})

	// StoreRetries counts transparent stale-connection retries in the gateway
	StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "store",
		Name:      "stale_retries_total",
		Help:      "Total store operations retried after a stale connection",
	})

	// BusPublishes counts bus publishes by outcome
	BusPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "publishes_total",
		Help:      "Total bus publishes",
	}, []string{"status"})

	// CircuitBreakerState tracks the publisher breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per backend",
	}, []string{"backend"})

	// CircuitBreakerFailures counts calls rejected by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls rejected because the circuit breaker was open",
	}, []string{"backend"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
