package app

import (
	"context"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialsynth/domain/core"
	"trialsynth/domain/vitals"
	"trialsynth/internal/errors"
	"trialsynth/internal/testkit"
)

func TestMultipleImputation_PoolsEstimates(t *testing.T) {
	svc := newTestService(t)
	req := vitals.GenerationRequest{SubjectsPerArm: 15, Seed: 21}

	res, err := svc.MultipleImputation(context.Background(), testkit.ReferenceTable(nil), req, 5)
	require.NoError(t, err)

	require.Len(t, res.Tables, 5)
	require.Len(t, res.Estimates, 5)
	require.Len(t, res.Diagnostics, 5)
	assert.Equal(t, 5, res.Pooled.M)

	ests := make([]float64, len(res.Estimates))
	for i, e := range res.Estimates {
		ests[i] = e.Estimate
		assert.Equal(t, 15, e.NActive)
		assert.Equal(t, 15, e.NPlacebo)
	}
	mean, _ := stats.Mean(ests)
	assert.InDelta(t, mean, res.Pooled.Estimate, 1e-9)
	assert.Less(t, res.Pooled.CILow, res.Pooled.Estimate)
	assert.Greater(t, res.Pooled.CIHigh, res.Pooled.Estimate)
	assert.Greater(t, res.Pooled.DF, 0.0)
	assert.InDelta(t, res.Pooled.Within+(1+1.0/5)*res.Pooled.Between, res.Pooled.Total, 1e-9)

	for _, table := range res.Tables {
		assert.Len(t, table, 120)
		assert.Empty(t, table.InvalidRows())
	}
	assert.NotEqual(t, res.Tables[0].Fingerprint(), res.Tables[1].Fingerprint())
}

func TestMultipleImputation_Deterministic(t *testing.T) {
	svc := newTestService(t)
	ref := testkit.ReferenceTable(nil)
	req := vitals.GenerationRequest{SubjectsPerArm: 8, Seed: 3}

	a, err := svc.MultipleImputation(context.Background(), ref, req, 3)
	require.NoError(t, err)
	b, err := svc.MultipleImputation(context.Background(), ref, req, 3)
	require.NoError(t, err)
	assert.Equal(t, a.Pooled, b.Pooled)
}

func TestMultipleImputation_CalibratesReturnedTables(t *testing.T) {
	req := vitals.GenerationRequest{SubjectsPerArm: 10, TargetEffect: vitals.Effect(-6), Seed: 8}
	res, err := newTestService(t).MultipleImputation(context.Background(), testkit.ReferenceTable(nil), req, 2)
	require.NoError(t, err)
	for _, d := range res.Diagnostics {
		require.NotNil(t, d.Calibration)
		assert.False(t, d.Calibration.Skipped)
	}
}

func TestMultipleImputation_NeedsTwoImputations(t *testing.T) {
	_, err := newTestService(t).MultipleImputation(context.Background(), testkit.ReferenceTable(nil),
		vitals.GenerationRequest{SubjectsPerArm: 4}, 1)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInsufficientData, errors.GetCode(err))
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}
