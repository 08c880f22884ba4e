// Package metrics declares the service's Prometheus collectors. They register
// with the default registry and are served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsage_tasks_created_total",
		Help: "Total number of create requests by task type and outcome (created, existing, cached)",
	}, []string{"type", "outcome"})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsage_tasks_finished_total",
		Help: "Total number of tasks reaching a terminal status",
	}, []string{"type", "status"})

	TasksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsage_tasks_rejected_total",
		Help: "Total number of create requests rejected because the queue was saturated",
	})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docsage_task_duration_seconds",
		Help:    "Engine execution time per task attempt in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"type"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docsage_workers_busy",
		Help: "Number of workers currently executing a task",
	})

	QueueRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsage_queue_redeliveries_total",
		Help: "Total number of messages redelivered after a nack or lease expiry",
	})

	QueueDeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsage_queue_dead_letters_total",
		Help: "Total number of messages moved to the dead-letter list",
	})

	ContentUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsage_content_uploads_total",
		Help: "Total number of content uploads by dedup result (new, duplicate)",
	}, []string{"result"})

	ContentCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsage_content_cache_hits_total",
		Help: "Total number of fingerprint lookups served from the in-process cache",
	})

	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docsage_hub_subscribers",
		Help: "Number of open progress subscriptions",
	})

	HubDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsage_hub_dropped_total",
		Help: "Total number of progress updates dropped because a subscriber was slow",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsage_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docsage_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
