package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes recorded by TasksProcessed.
const (
	OutcomeSplit        = "split"
	OutcomePersisted    = "persisted"
	OutcomeEmpty        = "empty"
	OutcomeSubmitFailed = "submit_failed"
	OutcomePollFailed   = "poll_failed"
	OutcomeRetry        = "retry" // left claimed for redelivery
)

// Metrics groups the collectors exported by a worker process.
type Metrics struct {
	TasksProcessed  *prometheus.CounterVec   // by outcome
	ProviderErrors  *prometheus.CounterVec   // by provider and stage
	RequestSeconds  *prometheus.HistogramVec // by provider and stage
	ActivePipelines prometheus.Gauge
	TasksSplit      prometheus.Counter
	PlacesPersisted prometheus.Counter
	TasksRecovered  prometheus.Counter
	QueueDepth      *prometheus.GaugeVec // by state: pending, in_flight
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		TasksProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "quadrant_tasks_processed_total",
			Help: "Total number of claimed tasks that finished a pipeline run, by outcome.",
		}, []string{"outcome"}),
		ProviderErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "quadrant_provider_errors_total",
			Help: "Total number of errors received from the search provider API.",
		}, []string{"provider", "stage"}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quadrant_provider_request_duration_seconds",
			Help:    "Duration of requests to the search provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "stage"}),
		ActivePipelines: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "quadrant_active_pipelines",
			Help: "Current number of task pipelines running in this process.",
		}),
		TasksSplit: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quadrant_tasks_split_total",
			Help: "Total number of tasks subdivided into quadrants.",
		}),
		PlacesPersisted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quadrant_places_persisted_total",
			Help: "Total number of place upserts written to storage.",
		}),
		TasksRecovered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quadrant_tasks_recovered_total",
			Help: "Total number of stale in-flight tasks returned to pending.",
		}),
		QueueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "quadrant_queue_depth",
			Help: "Queue collection sizes observed by the last stats refresh.",
		}, []string{"state"}),
	}
}
