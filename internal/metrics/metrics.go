// Package metrics exposes the Prometheus counters and histograms for the
// indexing worker pool and query service, served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coderag_jobs_enqueued_total",
		Help: "Total number of indexing jobs submitted to the queue",
	})
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coderag_jobs_completed_total",
		Help: "Total number of indexing jobs that completed successfully",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coderag_jobs_failed_total",
		Help: "Total number of indexing jobs that failed after exhausting retries",
	})
	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coderag_job_retries_total",
		Help: "Total number of indexing job retry attempts",
	})
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coderag_jobs_in_flight",
		Help: "Number of indexing jobs currently being processed",
	})
	JobPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coderag_job_phase_duration_seconds",
		Help:    "Duration of each indexing job phase",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"phase"})

	QueryRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coderag_query_requests_total",
		Help: "Total number of RAG query requests handled",
	})
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coderag_query_duration_seconds",
		Help:    "Duration of RAG query requests",
		Buckets: prometheus.DefBuckets,
	})
	QueryCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coderag_query_cache_hits_total",
		Help: "Total number of RAG query responses served from cache",
	})
)
