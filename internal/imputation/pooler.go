package imputation

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"trialsynth/domain/core"
)

// PooledEstimate combines M per-imputation estimates by Rubin's rules
type PooledEstimate struct {
	Estimate float64 `json:"estimate"`
	StdError float64 `json:"std_error"`
	Within   float64 `json:"within_variance"`
	Between  float64 `json:"between_variance"`
	Total    float64 `json:"total_variance"`
	DF       float64 `json:"df"`
	CILow    float64 `json:"ci_low"`
	CIHigh   float64 `json:"ci_high"`
	M        int     `json:"m"`
}

// Pool applies Rubin's rules: Q̄ is the mean estimate, W the mean squared
// standard error, B the sample variance of the estimates and T = W + (1+1/M)B.
// Degrees of freedom follow Barnard and Rubin when completeDF is positive and
// finite, and the large-sample Rubin formula otherwise. The 95% interval uses
// the matching Student-t quantile.
func Pool(estimates, stdErrors []float64, completeDF float64) (PooledEstimate, error) {
	m := len(estimates)
	if m != len(stdErrors) {
		return PooledEstimate{}, core.NewInvalidRequestError("std_errors",
			fmt.Sprintf("%d standard errors for %d estimates", len(stdErrors), m))
	}
	if m < 2 {
		return PooledEstimate{}, core.NewInsufficientDataError("multiple imputation", m, 2)
	}

	qbar, _ := stats.Mean(estimates)
	squared := make([]float64, m)
	for i, se := range stdErrors {
		squared[i] = se * se
	}
	within, _ := stats.Mean(squared)
	between, err := stats.SampleVariance(estimates)
	if err != nil {
		return PooledEstimate{}, err
	}
	mf := float64(m)
	total := within + (1+1/mf)*between

	out := PooledEstimate{
		Estimate: qbar,
		StdError: math.Sqrt(total),
		Within:   within,
		Between:  between,
		Total:    total,
		M:        m,
	}
	out.DF = degreesOfFreedom(mf, between, total, completeDF)

	q := quantile975(out.DF)
	out.CILow = qbar - q*out.StdError
	out.CIHigh = qbar + q*out.StdError
	return out, nil
}

func degreesOfFreedom(m, between, total, completeDF float64) float64 {
	if total == 0 {
		return math.Inf(1)
	}
	lambda := (1 + 1/m) * between / total
	old := math.Inf(1)
	if lambda > 0 {
		old = (m - 1) / (lambda * lambda)
	}
	if completeDF <= 0 || math.IsInf(completeDF, 1) {
		return old
	}
	observed := (completeDF + 1) / (completeDF + 3) * completeDF * (1 - lambda)
	if math.IsInf(old, 1) {
		return observed
	}
	return old * observed / (old + observed)
}

func quantile975(df float64) float64 {
	if math.IsInf(df, 1) || df <= 0 || math.IsNaN(df) {
		return distuv.UnitNormal.Quantile(0.975)
	}
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(0.975)
}
