package constraints

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"trialsynth/domain/core"
	"trialsynth/domain/vitals"
)

// EffectEstimate is the Active minus Placebo difference at one visit
type EffectEstimate struct {
	Estimate    float64 `json:"estimate"`
	StdError    float64 `json:"std_error"`
	NActive     int     `json:"n_active"`
	NPlacebo    int     `json:"n_placebo"`
	MeanActive  float64 `json:"mean_active"`
	MeanPlacebo float64 `json:"mean_placebo"`
}

// EstimateEffect computes the arm difference and its Welch standard error
// sqrt(s1²/n1 + s2²/n2) for one column at the endpoint visit.
func EstimateEffect(t vitals.Table, visit string, column vitals.Column) (EffectEstimate, error) {
	active := t.Select(column, vitals.PartitionKey{Visit: visit, Arm: vitals.ArmActive})
	placebo := t.Select(column, vitals.PartitionKey{Visit: visit, Arm: vitals.ArmPlacebo})
	if len(active) < 2 || len(placebo) < 2 {
		return EffectEstimate{}, fmt.Errorf("%w: %d active and %d placebo rows at %s",
			core.ErrInsufficientData, len(active), len(placebo), visit)
	}

	meanA, _ := stats.Mean(active)
	meanP, _ := stats.Mean(placebo)
	varA, err := stats.SampleVariance(active)
	if err != nil {
		return EffectEstimate{}, err
	}
	varP, err := stats.SampleVariance(placebo)
	if err != nil {
		return EffectEstimate{}, err
	}

	return EffectEstimate{
		Estimate:    meanA - meanP,
		StdError:    math.Sqrt(varA/float64(len(active)) + varP/float64(len(placebo))),
		NActive:     len(active),
		NPlacebo:    len(placebo),
		MeanActive:  meanA,
		MeanPlacebo: meanP,
	}, nil
}

// armDifference is the plain mean difference; it needs one row per arm
func armDifference(t vitals.Table, visit string, column vitals.Column) (float64, bool) {
	active := t.Select(column, vitals.PartitionKey{Visit: visit, Arm: vitals.ArmActive})
	placebo := t.Select(column, vitals.PartitionKey{Visit: visit, Arm: vitals.ArmPlacebo})
	if len(active) == 0 || len(placebo) == 0 {
		return 0, false
	}
	meanA, _ := stats.Mean(active)
	meanP, _ := stats.Mean(placebo)
	return meanA - meanP, true
}
