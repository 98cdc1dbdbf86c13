package app

import (
	"context"
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialsynth/adapters/rng"
	"trialsynth/adapters/synth"
	"trialsynth/domain/core"
	"trialsynth/domain/vitals"
	"trialsynth/internal"
	"trialsynth/internal/config"
	"trialsynth/internal/errors"
	"trialsynth/internal/testkit"
)

func newTestDriver(t *testing.T, chunkSize, workers int) *ChunkedBatchDriver {
	t.Helper()
	logger := internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	return NewChunkedBatchDriver(newTestService(t), rng.NewStreams(),
		config.BatchConfig{ChunkSize: chunkSize, Workers: workers}, logger, nil)
}

func TestPlan_ImplicitChunksHoldBothArms(t *testing.T) {
	d := newTestDriver(t, 3, 1)
	chunks := d.Plan(vitals.GenerationRequest{SubjectsPerArm: 10})
	require.Len(t, chunks, 7)

	seen := map[core.SubjectID]bool{}
	for i, c := range chunks {
		subjects := c.Subjects()
		if i < 6 {
			require.Len(t, subjects, 3)
		} else {
			require.Len(t, subjects, 2)
		}
		arms := map[vitals.Arm]int{}
		for _, s := range subjects {
			assert.False(t, seen[s.SubjectID], "subject %s in two chunks", s.SubjectID)
			seen[s.SubjectID] = true
			arms[s.Arm]++
		}
		assert.Positive(t, arms[vitals.ArmActive])
		assert.Positive(t, arms[vitals.ArmPlacebo])
	}
	assert.Len(t, seen, 20)
}

func TestPlan_ExplicitChunksKeepAssignments(t *testing.T) {
	req := vitals.GenerationRequest{
		SubjectIDs: []core.SubjectID{"S-4", "S-1", "S-3", "S-2", "S-5"},
		ArmAssignment: map[core.SubjectID]vitals.Arm{
			"S-1": vitals.ArmActive, "S-2": vitals.ArmPlacebo, "S-3": vitals.ArmActive,
			"S-4": vitals.ArmPlacebo, "S-5": vitals.ArmPlacebo,
		},
	}
	chunks := newTestDriver(t, 2, 1).Plan(req)
	require.Len(t, chunks, 3)

	var layout vitals.Layout
	for _, c := range chunks {
		layout = append(layout, c.Layout()...)
	}
	assert.Equal(t, req.Layout(), layout)
}

func TestRun_OutputIndependentOfWorkers(t *testing.T) {
	ref := testkit.ReferenceTable(nil)
	req := vitals.GenerationRequest{SubjectsPerArm: 10, TargetEffect: vitals.Effect(-6), Seed: 17}

	for _, kind := range []synth.Kind{synth.KindCorrelatedGaussian, synth.KindResampling} {
		t.Run(kind.String(), func(t *testing.T) {
			serial, err := newTestDriver(t, 3, 1).Run(context.Background(), kind, ref, req, nil)
			require.NoError(t, err)
			parallel, err := newTestDriver(t, 3, 4).Run(context.Background(), kind, ref, req, nil)
			require.NoError(t, err)

			assert.Equal(t, 7, serial.Chunks)
			assert.Equal(t, 80, serial.Rows)
			assert.Len(t, serial.Table, 80)
			assert.Equal(t, serial.ChunkFingerprints, parallel.ChunkFingerprints)
			assert.Equal(t, serial.Fingerprint, parallel.Fingerprint)
			assert.Len(t, serial.Calibrations, 7)
			assert.Empty(t, serial.Table.InvalidRows())
		})
	}
}

func TestRun_StreamsChunksInOrder(t *testing.T) {
	ref := testkit.ReferenceTable(nil)
	req := vitals.GenerationRequest{SubjectsPerArm: 9, Seed: 2}

	accumulated, err := newTestDriver(t, 4, 1).Run(context.Background(), synth.KindDiffusion, ref, req, nil)
	require.NoError(t, err)

	sink := testkit.NewMemorySink()
	streamed, err := newTestDriver(t, 4, 3).Run(context.Background(), synth.KindDiffusion, ref, req, sink)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, sink.Indexes)
	assert.Nil(t, streamed.Table)
	assert.Empty(t, streamed.Fingerprint)
	assert.Equal(t, accumulated.Rows, streamed.Rows)
	assert.Equal(t, accumulated.Fingerprint, sink.Rows().Fingerprint())
	assert.False(t, sink.Closed)
}

func TestRun_SinkFailureStopsRun(t *testing.T) {
	sinkErr := stderrors.New("disk full")
	sink := testkit.NewMemorySink()
	sink.FailAt = 2
	sink.Err = sinkErr

	_, err := newTestDriver(t, 2, 2).Run(context.Background(), synth.KindCorrelatedGaussian,
		testkit.ReferenceTable(nil), vitals.GenerationRequest{SubjectsPerArm: 6, Seed: 1}, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, errors.CodeSinkError, errors.GetCode(err))
	assert.Equal(t, []int{0, 1}, sink.Indexes)
}

func TestRunFitted_Canceled(t *testing.T) {
	d := newTestDriver(t, 2, 2)
	fitted, err := d.service.Fit(context.Background(), synth.KindCorrelatedGaussian, testkit.ReferenceTable(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := testkit.NewMemorySink()
	_, err = d.RunFitted(ctx, fitted, vitals.GenerationRequest{SubjectsPerArm: 6}, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, errors.CodeCanceled, errors.GetCode(err))
	assert.Empty(t, sink.Indexes)
}

func TestRun_RejectsInvalidRequest(t *testing.T) {
	_, err := newTestDriver(t, 2, 1).Run(context.Background(), synth.KindCorrelatedGaussian,
		testkit.ReferenceTable(nil), vitals.GenerationRequest{}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}
