package synth

import (
	"math/rand"

	"trialsynth/domain/stats"
	"trialsynth/domain/vitals"
	"trialsynth/internal/config"
)

// CorrelatedGaussian samples every row from the learned multivariate normal
type CorrelatedGaussian struct {
	cfg config.GaussianConfig
}

// NewCorrelatedGaussian creates the strategy
func NewCorrelatedGaussian(cfg config.GaussianConfig) *CorrelatedGaussian {
	return &CorrelatedGaussian{cfg: cfg}
}

func (g *CorrelatedGaussian) Kind() Kind { return KindCorrelatedGaussian }

func (g *CorrelatedGaussian) Fit(reference vitals.Table) (*stats.Profile, error) {
	return learn(reference)
}

// Generate draws x = L·z per row and maps it to mean + std·x. With
// Conditional set the row's (visit, arm) statistics replace the global ones.
func (g *CorrelatedGaussian) Generate(profile *stats.Profile, req vitals.GenerationRequest, rng *rand.Rand) (vitals.Table, *vitals.Diagnostics, error) {
	if err := requireProfile(profile); err != nil {
		return nil, nil, err
	}
	diag := vitals.NewDiagnostics(g.Kind().String())
	rows := rowsFor(profile, req, rng)
	sampler := newCorrelatedSampler(profile)

	var mean, std [vitals.NumColumns]float64
	for i := range profile.Global {
		mean[i], std[i] = profile.Global[i].Mean, profile.Global[i].Std
	}

	for i := range rows {
		m, s := mean, std
		if g.cfg.Conditional {
			m, s = target(profile, rows[i].Partition(), diag)
		}
		x := sampler.draw(rng)
		var values [vitals.NumColumns]float64
		for c := range values {
			values[c] = m[c] + s[c]*x[c]
		}
		rows[i].SetValues(values)
	}
	return rows, diag, nil
}
