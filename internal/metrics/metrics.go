// Package metrics exposes the Prometheus collectors of the server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "teamchat"

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Realtime metrics
	RealtimeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_sessions",
		Help:      "Open websocket sessions",
	})

	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_subscriptions",
		Help:      "Active stream subscriptions across all sessions",
	})

	RealtimeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_dropped_sessions_total",
		Help:      "Sessions closed because their send queue overflowed",
	})

	// Change feed metrics
	FeedEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_published_total",
			Help:      "Feed events accepted by the broker",
		},
		[]string{"entity", "kind"},
	)

	FeedPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_publish_failures_total",
		Help:      "Feed events the broker rejected",
	})

	OutboxReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_replayed_total",
		Help:      "Feed events republished from the outbox",
	})

	// Notification metrics
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications created by type",
		},
		[]string{"type"},
	)

	PushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_failures_total",
		Help:      "Push deliveries that failed",
	})

	// Database operation metrics
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Duration of database operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operation string) func() {
	start := time.Now()
	return func() {
		DBOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
