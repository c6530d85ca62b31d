// Package metrics registers the orchestrator's run-level Prometheus
// collectors: per-stage document counts and durations, worker task
// outcomes, and resource-guard/embedding-server lifecycle events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
	"github.com/connexus-ai/evallab-pipeline/internal/stage"
	"github.com/connexus-ai/evallab-pipeline/internal/workerpool"
)

// Metrics holds every collector the orchestrator exposes for one run.
type Metrics struct {
	DocumentsProcessedTotal *prometheus.CounterVec
	StageDurationSeconds    *prometheus.HistogramVec
	StageFailuresTotal      *prometheus.CounterVec

	WorkerTasksTotal *prometheus.CounterVec
	ActiveWorkers    prometheus.Gauge

	MemoryWaitTotal        prometheus.Counter
	MemoryWaitSeconds      prometheus.Histogram
	EmbeddingServerRestart prometheus.Counter
}

// New creates and registers the orchestrator's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocumentsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_documents_processed_total",
				Help: "Documents processed by stage and outcome status.",
			},
			[]string{"stage", "status"},
		),
		StageDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_stage_duration_seconds",
				Help:    "Per-stage processing duration in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		StageFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_stage_failures_total",
				Help: "Stage invocations that reported a failed outcome.",
			},
			[]string{"stage"},
		),
		WorkerTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_worker_tasks_total",
				Help: "Worker task outcomes: completed, timed_out, panicked, errored.",
			},
			[]string{"result"},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		),
		MemoryWaitTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_memory_wait_total",
				Help: "Number of times a worker blocked on the resource guard's memory-wait loop.",
			},
		),
		MemoryWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_memory_wait_seconds",
				Help:    "Time spent blocked in the resource guard's memory-wait loop.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		EmbeddingServerRestart: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_embedding_server_restarts_total",
				Help: "Number of times the local embedding server subprocess was (re)started.",
			},
		),
	}

	reg.MustRegister(
		m.DocumentsProcessedTotal,
		m.StageDurationSeconds,
		m.StageFailuresTotal,
		m.WorkerTasksTotal,
		m.ActiveWorkers,
		m.MemoryWaitTotal,
		m.MemoryWaitSeconds,
		m.EmbeddingServerRestart,
	)
	return m
}

// Handler returns the Prometheus scrape endpoint handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RecordStageResult records every stage outcome in result against the
// per-stage counters and duration histogram.
func (m *Metrics) RecordStageResult(result *stage.Result) {
	if result == nil {
		return
	}
	for name, outcome := range result.Stages {
		status := "success"
		if !outcome.Success {
			status = "failure"
			m.StageFailuresTotal.WithLabelValues(name).Inc()
		}
		m.DocumentsProcessedTotal.WithLabelValues(name, status).Inc()

		if elapsed, ok := stageElapsedSeconds(outcome, name); ok {
			m.StageDurationSeconds.WithLabelValues(name).Observe(elapsed)
		}
	}
}

// stageElapsedSeconds pulls the per-stage elapsed time the machine records
// into Updates["stages"][name].ElapsedSeconds, if present.
func stageElapsedSeconds(outcome stage.Outcome, name string) (float64, bool) {
	stages, ok := outcome.Updates["stages"].(map[string]model.StageResult)
	if !ok {
		return 0, false
	}
	sr, ok := stages[name]
	if !ok {
		return 0, false
	}
	return sr.ElapsedSeconds, true
}

// RecordWorkerOutcome classifies a worker pool outcome into the
// orchestrator_worker_tasks_total counter.
func (m *Metrics) RecordWorkerOutcome(o workerpool.Outcome) {
	switch {
	case o.Panicked:
		m.WorkerTasksTotal.WithLabelValues("panicked").Inc()
	case o.TimedOut:
		m.WorkerTasksTotal.WithLabelValues("timed_out").Inc()
	case o.Err != nil:
		m.WorkerTasksTotal.WithLabelValues("errored").Inc()
	default:
		m.WorkerTasksTotal.WithLabelValues("completed").Inc()
	}
}

// RecordMemoryWait records one pass through the resource guard's
// memory-wait loop that waited the given number of seconds.
func (m *Metrics) RecordMemoryWait(seconds float64) {
	m.MemoryWaitTotal.Inc()
	m.MemoryWaitSeconds.Observe(seconds)
}

// RecordEmbeddingServerRestart records one local embedding server
// (re)start.
func (m *Metrics) RecordEmbeddingServerRestart() {
	m.EmbeddingServerRestart.Inc()
}
