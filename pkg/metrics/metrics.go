package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moodtagger_jobs_received_total",
			Help: "Total number of payloads popped from the job queue",
		},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodtagger_jobs_processed_total",
			Help: "Total number of jobs turned into a result",
		},
		[]string{"success"}, // "true" or "false"
	)

	JobsMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moodtagger_jobs_malformed_total",
			Help: "Total number of payloads dropped because they did not decode",
		},
	)

	QueueErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moodtagger_queue_errors_total",
			Help: "Total number of failed blocking pops",
		},
	)

	PublishErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moodtagger_publish_errors_total",
			Help: "Total number of results that could not be published",
		},
	)

	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodtagger_jobs_submitted_total",
			Help: "Total number of jobs enqueued by the backend",
		},
		[]string{"source"}, // upload, object
	)

	// Buckets: 50ms to ~102s
	JobDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moodtagger_job_duration_seconds",
			Help:    "Time spent processing one job, captioning included",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	QueueLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moodtagger_queue_latency_seconds",
			Help:    "Time between a job's enqueue timestamp and its pop",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
	)
)
