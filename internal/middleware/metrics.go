package middleware

import (
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Application metrics. Registered once via promauto; the HTTP request
// metrics come from fiberprometheus.
var (
	// ActiveWebSockets tracks currently open realtime connections.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glimmer_active_websockets",
		Help: "Number of active WebSocket connections",
	})

	// RedisErrors counts failed Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glimmer_redis_errors_total",
		Help: "Total Redis command errors",
	}, []string{"command"})

	// MessagesSent counts persisted conversation messages.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glimmer_messages_sent_total",
		Help: "Total conversation messages persisted",
	})

	// MessagesDropped counts realtime frames dropped because a client's
	// send buffer was full.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glimmer_ws_messages_dropped_total",
		Help: "Realtime frames dropped due to slow consumers",
	}, []string{"reason"})

	// RateLimitRejections counts requests rejected by rate limiting.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glimmer_rate_limit_rejections_total",
		Help: "Requests rejected by rate limiting",
	}, []string{"resource"})

	// DecryptFailures counts stored envelopes that failed to open.
	DecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glimmer_message_decrypt_failures_total",
		Help: "Stored message envelopes that failed authentication",
	})
)

// InitMetrics creates the fiberprometheus middleware for HTTP metrics.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	return fiberprometheus.New(serviceName)
}

// MetricsMiddleware registers the /metrics endpoint and returns the
// request-instrumentation handler.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	return prom.Middleware
}
