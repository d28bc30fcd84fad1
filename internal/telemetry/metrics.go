// Package telemetry exposes Prometheus metrics for the enhancement pipeline.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the enhancement pipeline.
type Metrics struct {
	// Job outcomes
	JobsTotal   *prometheus.CounterVec
	JobDuration prometheus.Histogram

	// Phase timing
	PhaseDuration *prometheus.HistogramVec

	// Context gathering
	SourceResultsTotal  *prometheus.CounterVec
	SourceTimeoutsTotal *prometheus.CounterVec

	// Synthesis
	FallbacksTotal prometheus.Counter

	// Update write-back
	UpdateRejectionsTotal prometheus.Counter
}

// NewMetrics creates and registers pipeline metrics.
//
// Uses sync.Once so repeated calls share one registration, preventing
// duplicate collector panics. All metrics are prefixed with "pipeline_".
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			JobsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pipeline_jobs_total",
					Help: "Total enhancement jobs by terminal status",
				},
				[]string{"status"}, // "completed" or "failed"
			),
			JobDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pipeline_job_duration_seconds",
					Help:    "End-to-end pipeline execution time",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
				},
			),
			PhaseDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pipeline_phase_duration_seconds",
					Help:    "Per-phase execution time",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
				},
				[]string{"phase"}, // "gather", "synthesis", "update"
			),
			SourceResultsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pipeline_source_results_total",
					Help: "Context source fetches by source and outcome",
				},
				[]string{"source", "outcome"},
			),
			SourceTimeoutsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pipeline_source_timeouts_total",
					Help: "Context source fetches cancelled at a deadline",
				},
				[]string{"source"},
			),
			FallbacksTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "pipeline_synthesis_fallbacks_total",
					Help: "Synthesis calls that degraded to the local formatter",
				},
			),
			UpdateRejectionsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "pipeline_update_rejections_total",
					Help: "External update calls that returned failure",
				},
			),
		}
	})
	return globalMetrics
}

// RecordJob records a terminal job outcome and its duration in seconds.
func (m *Metrics) RecordJob(status string, seconds float64) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.Observe(seconds)
}

// RecordPhase records one phase's duration in seconds.
func (m *Metrics) RecordPhase(phase string, seconds float64) {
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordSource records one context source fetch outcome.
func (m *Metrics) RecordSource(source string, succeeded bool) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.SourceResultsTotal.WithLabelValues(source, outcome).Inc()
}

// RecordSourceTimeout records a source cancelled at a deadline.
func (m *Metrics) RecordSourceTimeout(source string) {
	m.SourceTimeoutsTotal.WithLabelValues(source).Inc()
}
