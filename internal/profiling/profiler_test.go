package profiling

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"trialsynth/domain/core"
	"trialsynth/domain/vitals"
	"trialsynth/internal/testkit"
)

func TestFit_GlobalAndConditionalStats(t *testing.T) {
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) { c.ActiveEffect = -25 })
	profile, err := NewLearner().Fit(ref)
	require.NoError(t, err)

	assert.Equal(t, len(ref), profile.N)
	assert.InDelta(t, 130, profile.Global[vitals.SystolicBP].Mean, 5)
	assert.InDelta(t, 13, profile.Global[vitals.SystolicBP].Std, 4)
	assert.Equal(t, vitals.DefaultSchedule, profile.Visits)

	// every partition observed, 20 subjects each
	assert.Len(t, profile.Conditional, 8)
	cs, ok := profile.Lookup(vitals.PartitionKey{Visit: "Week 12", Arm: vitals.ArmActive})
	require.True(t, ok)
	assert.Equal(t, 20, cs.N)

	pl, _ := profile.Lookup(vitals.PartitionKey{Visit: "Week 12", Arm: vitals.ArmPlacebo})
	assert.Less(t, cs.Mean[vitals.SystolicBP], pl.Mean[vitals.SystolicBP], "active arm should sit lower at the endpoint")
}

func TestFit_CorrelationIsUnitDiagonalAndFactorized(t *testing.T) {
	profile, err := NewLearner().Fit(testkit.ReferenceTable(nil))
	require.NoError(t, err)

	for i := 0; i < vitals.NumColumns; i++ {
		assert.InDelta(t, 1.0, profile.Correlation.At(i, i), 1e-12)
	}
	assert.Greater(t, profile.CorrelationAt(vitals.SystolicBP, vitals.DiastolicBP), 0.3)

	var rebuilt mat.Dense
	rebuilt.Mul(profile.Cholesky, profile.Cholesky.T())
	for i := 0; i < vitals.NumColumns; i++ {
		for j := 0; j < vitals.NumColumns; j++ {
			assert.InDelta(t, profile.Correlation.At(i, j), rebuilt.At(i, j), 1e-9)
		}
	}
}

func TestFit_RegularizesDegenerateInput(t *testing.T) {
	// diastolic is an exact linear function of systolic: correlation of 1
	var ref vitals.Table
	for i := 0; i < 30; i++ {
		sys := 110 + float64(i)
		ref = append(ref, vitals.VitalRecord{
			SubjectID:    core.SequentialSubjectID(i + 1),
			VisitName:    "Day 1",
			TreatmentArm: vitals.ArmActive,
			SystolicBP:   sys,
			DiastolicBP:  sys - 40,
			HeartRate:    60 + float64(i%7),
			Temperature:  36.5,
		})
	}

	profile, err := NewLearner().Fit(ref)
	require.NoError(t, err)
	assert.True(t, profile.Regularized)
	require.NotNil(t, profile.Cholesky)

	// zero-variance temperature is treated as uncorrelated
	assert.Equal(t, 0.0, profile.CorrelationAt(vitals.Temperature, vitals.HeartRate))
	for i := 0; i < vitals.NumColumns; i++ {
		assert.False(t, math.IsNaN(profile.Cholesky.At(i, i)))
	}
}

func TestFit_InsufficientData(t *testing.T) {
	ref := vitals.Table{{SubjectID: "S1", VisitName: "Day 1", TreatmentArm: vitals.ArmActive,
		SystolicBP: 130, DiastolicBP: 80, HeartRate: 70, Temperature: 36.6}}

	_, err := NewLearner().Fit(ref)
	assert.True(t, errors.Is(err, core.ErrInsufficientData), "got %v", err)

	_, err = NewLearner().Fit(nil)
	assert.True(t, errors.Is(err, core.ErrInsufficientData))
}

func TestFit_DropsIncompleteRows(t *testing.T) {
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) { c.SubjectsPerArm = 3 })
	ref[0].HeartRate = math.NaN()

	profile, err := NewLearner().Fit(ref)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.DroppedRows)
	assert.Equal(t, len(ref)-1, profile.N)
}

func TestFit_MissingPartitionIsAbsent(t *testing.T) {
	missing := vitals.PartitionKey{Visit: "Week 12", Arm: vitals.ArmPlacebo}
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) {
		c.Exclude = []vitals.PartitionKey{missing}
	})
	profile, err := NewLearner().Fit(ref)
	require.NoError(t, err)

	_, ok := profile.Lookup(missing)
	assert.False(t, ok)

	mean, _, found := profile.Target(missing)
	assert.False(t, found)
	assert.Equal(t, profile.Global[vitals.SystolicBP].Mean, mean[vitals.SystolicBP])
}

func TestFit_Frequencies(t *testing.T) {
	profile, err := NewLearner().Fit(testkit.ReferenceTable(nil))
	require.NoError(t, err)

	require.Len(t, profile.ArmFrequency, 2)
	assert.InDelta(t, 0.5, profile.ArmFrequency[0].Proportion, 1e-12)
	require.Len(t, profile.VisitFrequency, 4)
	assert.InDelta(t, 0.25, profile.VisitFrequency[3].Proportion, 1e-12)
}

func TestPartitionMoments_SingletonBorrowsGlobalStd(t *testing.T) {
	mean, std := partitionMoments([]float64{120}, 11)
	assert.Equal(t, 120.0, mean)
	assert.Equal(t, 11.0, std)
}
