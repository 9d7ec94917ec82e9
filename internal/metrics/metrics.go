package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocket metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codesync_connections_active",
		Help: "The current number of active WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})

	// Event routing metrics
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesync_events_total",
		Help: "The total number of inbound events processed, by event type.",
	}, []string{"type"})
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesync_events_dropped_total",
		Help: "The total number of inbound events dropped, by reason.",
	}, []string{"reason"})
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_broadcasts_sent_total",
		Help: "The total number of event deliveries written to client send queues.",
	})

	// Session metrics
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_sessions_created_total",
		Help: "The total number of sessions created.",
	})
	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_sessions_evicted_total",
		Help: "The total number of idle sessions evicted from memory.",
	})
)

// Drop reasons used with EventsDropped.
const (
	ReasonUnknownSession = "unknown_session"
	ReasonNotMember      = "not_member"
	ReasonInvalidPayload = "invalid_payload"
	ReasonSlowConsumer   = "slow_consumer"
	ReasonRateLimited    = "rate_limited"
)
