package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	StoreOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobstore_operations_total",
		Help: "Job store operations by backend, operation and outcome",
	}, []string{"backend", "op", "outcome"})
	StoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobstore_operation_duration_seconds",
		Help:    "Latency of non-blocking job store operations",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"backend", "op"})
	PauseRejected    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobstore_pause_rejected_total", Help: "Pause requests refused for unknown or finished jobs"})
	BackendFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobstore_backend_fallbacks_total", Help: "Remote backends replaced by the default sqlite store"}, []string{"backend"})
	JobsStarted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobtracker_jobs_started_total", Help: "Workloads launched"})
	JobsFinished     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobtracker_jobs_finished_total", Help: "Workloads finished by final status"}, []string{"status"})
	JobsRunning      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobtracker_jobs_running", Help: "Workloads currently executing"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobtracker_create_rate_limited_total", Help: "Job creations rejected by the rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			StoreOperations,
			StoreLatency,
			PauseRejected,
			BackendFallbacks,
			JobsStarted,
			JobsFinished,
			JobsRunning,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
