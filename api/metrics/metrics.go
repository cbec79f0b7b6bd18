package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_dispatch_total",
			Help: "Dispatch calls by outcome (cached, pending, in_progress, error)",
		},
		[]string{"outcome"},
	)

	TasksEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_optimizer_tasks_enqueued_total",
			Help: "Tasks published to the processing queue",
		},
	)

	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_queue_pending",
			Help: "Messages waiting in the processing queue at last health probe",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
