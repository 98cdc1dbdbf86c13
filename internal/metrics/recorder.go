// Package metrics exposes generation counters and timings to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records generation metrics. A nil *Recorder is a no-op.
type Recorder struct {
	recordsGenerated *prometheus.CounterVec
	chunksTotal      *prometheus.CounterVec
	chunkDuration    *prometheus.HistogramVec
	diagnostics      *prometheus.CounterVec
	calibrationGap   *prometheus.HistogramVec
	failures         *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg; pass prometheus.DefaultRegisterer
// for the process-wide registry or a fresh registry in tests.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		recordsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialsynth_records_generated_total",
				Help: "Synthetic vital-sign records produced",
			},
			[]string{"strategy"},
		),
		chunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialsynth_chunks_total",
				Help: "Batch chunks completed",
			},
			[]string{"strategy"},
		),
		chunkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trialsynth_chunk_duration_seconds",
				Help:    "Time to generate, enforce and calibrate one chunk",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		diagnostics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialsynth_diagnostics_total",
				Help: "Non-fatal generation diagnostics by kind",
			},
			[]string{"kind"},
		),
		calibrationGap: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trialsynth_calibration_gap",
				Help:    "Absolute difference between target and realized treatment effect",
				Buckets: []float64{1e-6, 0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"strategy"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialsynth_failures_total",
				Help: "Failed generation requests by error code",
			},
			[]string{"code"},
		),
	}
}

// RecordRecords adds n generated records for a strategy
func (r *Recorder) RecordRecords(strategy string, n int) {
	if r == nil {
		return
	}
	r.recordsGenerated.WithLabelValues(strategy).Add(float64(n))
}

// RecordChunk records one completed chunk and how long it took
func (r *Recorder) RecordChunk(strategy string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.chunksTotal.WithLabelValues(strategy).Inc()
	r.chunkDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// RecordDiagnostic adds count occurrences of a diagnostic kind
func (r *Recorder) RecordDiagnostic(kind string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.diagnostics.WithLabelValues(kind).Add(float64(count))
}

// RecordCalibrationGap observes |target - realized|
func (r *Recorder) RecordCalibrationGap(strategy string, gap float64) {
	if r == nil {
		return
	}
	if gap < 0 {
		gap = -gap
	}
	r.calibrationGap.WithLabelValues(strategy).Observe(gap)
}

// RecordFailure counts a failed request by its error code
func (r *Recorder) RecordFailure(code string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(code).Inc()
}
