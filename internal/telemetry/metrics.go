package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_jobs_enqueued_total", Help: "Jobs enqueued per kind"}, []string{"kind"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_jobs_completed_total", Help: "Jobs completed successfully per kind"}, []string{"kind"})
	JobsRetried   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_jobs_retried_total", Help: "Failed attempts that will retry per kind"}, []string{"kind"})
	JobsFailed    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_jobs_failed_total", Help: "Jobs that exhausted their attempts per kind"}, []string{"kind"})
	InFlight      = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pipeline_jobs_inflight", Help: "Jobs currently leased per kind"}, []string{"kind"})
	QueueDepth    = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pipeline_queue_depth", Help: "Ready queue depth per kind"}, []string{"kind"})
	RateLimited   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_enqueue_rate_limited_total", Help: "Enqueue requests rejected by the rate limiter"})

	TransformDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_transform_duration_seconds",
		Help:    "Wall time of one pipeline run per kind",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			InFlight,
			QueueDepth,
			RateLimited,
			TransformDuration,
		)
	})
	return promhttp.Handler()
}
