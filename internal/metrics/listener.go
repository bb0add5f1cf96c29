// Package metrics records job and step lifecycle events as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hochfrequenz/vat-batch/internal/domain"
)

// Listener implements batch.JobListener and batch.StepListener
type Listener struct {
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsRunning   *prometheus.GaugeVec

	stepsStarted   *prometheus.CounterVec
	stepsCompleted *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec

	stepRead   *prometheus.GaugeVec
	stepWrite  *prometheus.GaugeVec
	stepSkip   *prometheus.GaugeVec
	stepFilter *prometheus.GaugeVec
}

// NewListener registers the batch metrics with reg
func NewListener(reg prometheus.Registerer) *Listener {
	f := promauto.With(reg)
	return &Listener{
		jobsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_started_total",
			Help: "Number of job executions started",
		}, []string{"job_name"}),
		jobsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_completed_total",
			Help: "Number of job executions finished, by final status",
		}, []string{"job_name", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Job execution duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5min
		}, []string{"job_name", "status"}),
		jobsRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "batch_jobs_running",
			Help: "Job executions currently running",
		}, []string{"job_name"}),
		stepsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_started_total",
			Help: "Number of step executions started",
		}, []string{"job_name", "step_name"}),
		stepsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_completed_total",
			Help: "Number of step executions finished, by final status",
		}, []string{"job_name", "step_name", "status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Step execution duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"job_name", "step_name", "status"}),
		stepRead:   stepGauge(f, "batch_step_read_count", "Items read by the last execution of a step"),
		stepWrite:  stepGauge(f, "batch_step_write_count", "Items written by the last execution of a step"),
		stepSkip:   stepGauge(f, "batch_step_skip_count", "Items skipped by the last execution of a step"),
		stepFilter: stepGauge(f, "batch_step_filter_count", "Items filtered by the last execution of a step"),
	}
}

func stepGauge(f promauto.Factory, name, help string) *prometheus.GaugeVec {
	return f.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"job_name", "step_name"})
}

// BeforeJob implements batch.JobListener
func (l *Listener) BeforeJob(_ context.Context, exec *domain.JobExecution) {
	l.jobsStarted.WithLabelValues(exec.JobName).Inc()
	l.jobsRunning.WithLabelValues(exec.JobName).Inc()
}

// AfterJob implements batch.JobListener
func (l *Listener) AfterJob(_ context.Context, exec *domain.JobExecution) {
	status := string(exec.Status)
	l.jobsRunning.WithLabelValues(exec.JobName).Dec()
	l.jobsCompleted.WithLabelValues(exec.JobName, status).Inc()
	l.jobDuration.WithLabelValues(exec.JobName, status).Observe(exec.Duration().Seconds())

	for _, se := range exec.StepExecutions {
		l.stepRead.WithLabelValues(exec.JobName, se.StepName).Set(float64(se.ReadCount))
		l.stepWrite.WithLabelValues(exec.JobName, se.StepName).Set(float64(se.WriteCount))
		l.stepSkip.WithLabelValues(exec.JobName, se.StepName).Set(float64(se.SkipCount))
		l.stepFilter.WithLabelValues(exec.JobName, se.StepName).Set(float64(se.FilterCount))
	}
}

// BeforeStep implements batch.StepListener
func (l *Listener) BeforeStep(_ context.Context, exec *domain.JobExecution, step *domain.StepExecution) {
	l.stepsStarted.WithLabelValues(exec.JobName, step.StepName).Inc()
}

// AfterStep implements batch.StepListener
func (l *Listener) AfterStep(_ context.Context, exec *domain.JobExecution, step *domain.StepExecution) {
	status := string(step.Status)
	l.stepsCompleted.WithLabelValues(exec.JobName, step.StepName, status).Inc()
	l.stepDuration.WithLabelValues(exec.JobName, step.StepName, status).Observe(step.Duration().Seconds())
}
