package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	batchProjects *prometheus.CounterVec
	unbalanced    prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveBatch records how many projects a WIP batch processed and how many
// it skipped after an error.
func (m *Metrics) ObserveBatch(processed, failed int) {
	if m == nil {
		return
	}
	if processed > 0 {
		m.batchProjects.WithLabelValues("processed").Add(float64(processed))
	}
	if failed > 0 {
		m.batchProjects.WithLabelValues("failed").Add(float64(failed))
	}
}

// SetUnbalanced publishes the journal count found by the last integrity scan.
func (m *Metrics) SetUnbalanced(count int) {
	if m == nil {
		return
	}
	m.unbalanced.Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	batchProjects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_wip_batch_projects_total",
		Help: "Projects handled by WIP batch recalculation, by outcome.",
	}, []string{"outcome"})
	unbalanced := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_ledger_unbalanced_journals",
		Help: "Journals found unbalanced by the last integrity scan.",
	})
	registerer.MustRegister(runs, failures, duration, batchProjects, unbalanced)
	return &Metrics{runs: runs, failures: failures, duration: duration, batchProjects: batchProjects, unbalanced: unbalanced}
}
