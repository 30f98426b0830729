// Package metrics exposes supervisor activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/phylorun/internal/supervisor"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// Collectors holds the phylorun metrics on a private registry.
type Collectors struct {
	registry *prometheus.Registry

	jobs     *prometheus.CounterVec
	progress *prometheus.GaugeVec
	running  prometheus.Gauge
	duration *prometheus.HistogramVec

	mu   sync.Mutex
	live map[string]bool
}

var _ supervisor.Metrics = (*Collectors)(nil)

// New creates and registers the collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phylorun_jobs_total",
			Help: "Jobs that reached a terminal status.",
		}, []string{"category", "status"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phylorun_job_progress_percent",
			Help: "Completion percentage of running jobs.",
		}, []string{"job"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phylorun_engine_running",
			Help: "1 while an engine process is running.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phylorun_job_duration_seconds",
			Help:    "Wall time from engine start to terminal status.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"category"}),
		live: make(map[string]bool),
	}
	c.registry.MustRegister(c.jobs, c.progress, c.running, c.duration)
	return c
}

// Registry returns the registry holding the collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) EngineStarted(job *models.AnalysisJob) {
	c.mu.Lock()
	c.live[job.ID] = true
	c.mu.Unlock()
	c.running.Set(1)
	c.progress.WithLabelValues(job.ID).Set(job.Percentage)
}

func (c *Collectors) ProgressUpdated(job *models.AnalysisJob) {
	c.progress.WithLabelValues(job.ID).Set(job.Percentage)
}

func (c *Collectors) JobFinished(job *models.AnalysisJob) {
	c.jobs.WithLabelValues(string(job.Category), string(job.Status)).Inc()
	if job.StartTime != nil && job.FinishTime != nil {
		c.duration.WithLabelValues(string(job.Category)).Observe(job.FinishTime.Sub(*job.StartTime).Seconds())
	}

	c.mu.Lock()
	started := c.live[job.ID]
	delete(c.live, job.ID)
	c.mu.Unlock()
	if started {
		c.progress.DeleteLabelValues(job.ID)
		c.running.Set(0)
	}
}
