package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glimmer_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glimmer_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glimmer_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glimmer_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// ConversationMessageThroughput counts realtime messages by conversation event type.
	ConversationMessageThroughput = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glimmer_conversation_messages_total",
		Help: "Total conversation events pushed over the realtime channel",
	}, []string{"event_type"})

	// PresenceTransitions counts user online/offline transitions.
	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glimmer_presence_transitions_total",
		Help: "Total user presence transitions by direction",
	}, []string{"direction"})
)

// MessageMetrics records message and WebSocket event metrics.
type MessageMetrics struct{}

// NewMessageMetrics returns a new MessageMetrics instance.
func NewMessageMetrics() *MessageMetrics {
	return &MessageMetrics{}
}

// RecordMessage increments the conversation event counter.
func (*MessageMetrics) RecordMessage(eventType string) {
	ConversationMessageThroughput.WithLabelValues(eventType).Inc()
}

// RecordWebSocketEvent increments the WebSocket events counter.
func (*MessageMetrics) RecordWebSocketEvent(eventType string) {
	WebSocketEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveQuery records the latency of a database query.
func ObserveQuery(operation, table string, start time.Time) {
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}
