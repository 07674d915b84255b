package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so repeated construction never trips
// duplicate registration on the global registerer.
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued  prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobDuration   prometheus.Histogram

	jobsQueued     prometheus.Gauge
	jobsProcessing prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "print_jobs_enqueued_total",
			Help: "Total number of print jobs enqueued",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "print_jobs_completed_total",
			Help: "Total number of print jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "print_jobs_failed_total",
			Help: "Total number of print jobs failed",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "print_job_duration_seconds",
			Help:    "Time from dequeue to completion in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		jobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "print_queue_jobs_queued",
			Help: "Current number of queued print jobs",
		}),
		jobsProcessing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "print_queue_jobs_processing",
			Help: "Current number of print jobs being processed",
		}),
	}

	c.registry.MustRegister(
		c.jobsEnqueued,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobDuration,
		c.jobsQueued,
		c.jobsProcessing,
	)

	return c
}

func (c *Collector) JobEnqueued() {
	c.jobsEnqueued.Inc()
}

func (c *Collector) JobCompleted(seconds float64) {
	c.jobsCompleted.Inc()
	c.jobDuration.Observe(seconds)
}

func (c *Collector) JobFailed() {
	c.jobsFailed.Inc()
}

func (c *Collector) QueueDepth(queued, processing int) {
	c.jobsQueued.Set(float64(queued))
	c.jobsProcessing.Set(float64(processing))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
