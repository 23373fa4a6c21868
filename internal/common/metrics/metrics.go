// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_queue_size",
			Help: "Approximate number of events waiting in the queue",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_active_workers",
			Help: "Number of in-flight per-message tasks",
		},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_processed_total",
			Help: "Total number of events processed by the pipeline",
		},
		[]string{"type", "status"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notification_processing_seconds",
			Help: "Duration of per-message processing in seconds",
		},
		[]string{"type"},
	)

	GatewayAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_gateway_attempts_total",
			Help: "Total number of push gateway calls by outcome",
		},
		[]string{"outcome"},
	)
)
