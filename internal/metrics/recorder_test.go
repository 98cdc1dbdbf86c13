package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordRecords("resampling", 40)
	r.RecordRecords("resampling", 2)
	r.RecordChunk("resampling", 15*time.Millisecond)
	r.RecordDiagnostic("PartitionFallback", 3)
	r.RecordDiagnostic("PartitionFallback", 0)
	r.RecordFailure("INVALID_INPUT")
	r.RecordCalibrationGap("resampling", -0.2)

	assert.Equal(t, 42.0, testutil.ToFloat64(r.recordsGenerated.WithLabelValues("resampling")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.chunksTotal.WithLabelValues("resampling")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.diagnostics.WithLabelValues("PartitionFallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("INVALID_INPUT")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordRecords("x", 1)
		r.RecordChunk("x", time.Second)
		r.RecordDiagnostic("k", 1)
		r.RecordCalibrationGap("x", 1)
		r.RecordFailure("c")
	})
}
