// Package metrics exposes pipeline counters through prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
)

const namespace = "innervoice"

// Metrics implements the recorders of the transcription client, the converter and the queue.
type Metrics struct {
	registry       *prometheus.Registry
	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	segments       *prometheus.CounterVec
	jobs           *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	queueDepth     prometheus.Gauge
	duplicates     prometheus.Counter
	pendingRetries prometheus.Gauge
}

// New creates Metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Backend calls by backend, task and result kind.",
		}, []string{"backend", "task", "result"}),
		attemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_attempt_seconds",
			Help:      "Wall clock time of one backend call.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"backend", "task"}),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_results_total",
			Help:      "Segment task results by outcome.",
		}, []string{"task", "outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Terminal jobs by status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from dequeue to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting behind the one in progress.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_suppressed_total",
			Help:      "Submissions rejected by the duplicate guard.",
		}),
		pendingRetries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_manual_retries",
			Help:      "Owners with a job waiting for a manual retry.",
		}),
	}
	m.registry.MustRegister(
		m.attempts, m.attemptLatency, m.segments, m.jobs, m.jobDuration,
		m.queueDepth, m.duplicates, m.pendingRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordAttempt implements api.AttemptRecorder.
func (m *Metrics) RecordAttempt(backend string, task model.Task, kind apperrors.Kind, elapsed time.Duration) {
	result := "success"
	if kind != "" {
		result = string(kind)
	}
	m.attempts.WithLabelValues(backend, string(task), result).Inc()
	m.attemptLatency.WithLabelValues(backend, string(task)).Observe(elapsed.Seconds())
}

// RecordSegment implements converter.Recorder.
func (m *Metrics) RecordSegment(task model.Task, outcome model.AttemptOutcome) {
	m.segments.WithLabelValues(string(task), string(outcome)).Inc()
}

// RecordJob counts a terminal job.
func (m *Metrics) RecordJob(status model.JobStatus, elapsed time.Duration) {
	m.jobs.WithLabelValues(string(status)).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

// SetQueueDepth publishes the number of waiting jobs.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// RecordDuplicate counts a suppressed submission.
func (m *Metrics) RecordDuplicate() {
	m.duplicates.Inc()
}

// SetPendingRetries publishes the size of the manual retry registry.
func (m *Metrics) SetPendingRetries(n int) {
	m.pendingRetries.Set(float64(n))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
