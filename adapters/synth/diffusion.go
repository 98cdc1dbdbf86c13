package synth

import (
	"math/rand"

	"trialsynth/domain/stats"
	"trialsynth/domain/vitals"
	"trialsynth/internal/config"
	"trialsynth/internal/constraints"
)

// DefaultDiffusionSteps is the refinement step count when none is configured
const DefaultDiffusionSteps = 50

// Diffusion starts every row from correlated noise around the global
// statistics and anneals it toward its (visit, arm) conditional statistics.
type Diffusion struct {
	cfg config.DiffusionConfig
}

// NewDiffusion creates the strategy
func NewDiffusion(cfg config.DiffusionConfig) *Diffusion {
	if cfg.Steps <= 0 {
		cfg.Steps = DefaultDiffusionSteps
	}
	return &Diffusion{cfg: cfg}
}

func (d *Diffusion) Kind() Kind { return KindDiffusion }

// Steps returns the configured refinement step count
func (d *Diffusion) Steps() int { return d.cfg.Steps }

func (d *Diffusion) Fit(reference vitals.Table) (*stats.Profile, error) {
	return learn(reference)
}

// Generate runs T refinement steps. At step t the noise level is (T-t)/T and
// each value moves to
//
//	blend·mean + (1-blend)·value + noise·0.5·N(0,1)·std,  blend = 1 - noise
//
// using the row's conditional mean and std. The table is re-constrained after
// every step so no intermediate state leaves the valid region. There is no
// convergence test; T is the stopping rule.
func (d *Diffusion) Generate(profile *stats.Profile, req vitals.GenerationRequest, rng *rand.Rand) (vitals.Table, *vitals.Diagnostics, error) {
	if err := requireProfile(profile); err != nil {
		return nil, nil, err
	}
	diag := vitals.NewDiagnostics(d.Kind().String())
	rows := rowsFor(profile, req, rng)

	sampler := newCorrelatedSampler(profile)
	for i := range rows {
		x := sampler.draw(rng)
		var values [vitals.NumColumns]float64
		for c := range values {
			values[c] = profile.Global[c].Mean + profile.Global[c].Std*x[c]
		}
		rows[i].SetValues(values)
	}

	// targets resolve once per row; fallbacks are reported once per row
	means := make([][vitals.NumColumns]float64, len(rows))
	stds := make([][vitals.NumColumns]float64, len(rows))
	for i := range rows {
		means[i], stds[i] = target(profile, rows[i].Partition(), diag)
	}

	steps := d.cfg.Steps
	for t := 0; t < steps; t++ {
		noise := float64(steps-t) / float64(steps)
		blend := 1 - noise
		for i := range rows {
			values := rows[i].Values()
			for c := range values {
				values[c] = blend*means[i][c] + (1-blend)*values[c] + noise*0.5*rng.NormFloat64()*stds[i][c]
			}
			rows[i].SetValues(values)
		}
		constraints.EnforceInPlace(rows)
	}
	return rows, diag, nil
}
