package synth

import (
	"math/rand"

	"trialsynth/domain/core"
	"trialsynth/domain/stats"
	"trialsynth/domain/vitals"
	"trialsynth/internal/config"
)

// Partition fallback modes for Resampling
const (
	FallbackUnconditional = "unconditional"
	FallbackNearest       = "nearest"
)

// Resampling draws each row from real reference rows of the same partition
type Resampling struct {
	cfg config.ResamplingConfig

	reference  vitals.Table
	partitions map[vitals.PartitionKey][]int
	ranges     [vitals.NumColumns]float64
}

// NewResampling creates the strategy
func NewResampling(cfg config.ResamplingConfig) (*Resampling, error) {
	switch cfg.Fallback {
	case "":
		cfg.Fallback = FallbackUnconditional
	case FallbackUnconditional, FallbackNearest:
	default:
		return nil, core.NewInvalidRequestError("resampling.fallback", cfg.Fallback)
	}
	return &Resampling{cfg: cfg}, nil
}

func (r *Resampling) Kind() Kind { return KindResampling }

// Fit keeps the complete reference rows indexed by partition
func (r *Resampling) Fit(reference vitals.Table) (*stats.Profile, error) {
	profile, err := learn(reference)
	if err != nil {
		return nil, err
	}
	r.reference = make(vitals.Table, 0, profile.N)
	r.partitions = make(map[vitals.PartitionKey][]int)
	for _, row := range reference {
		if !row.Complete() {
			continue
		}
		key := row.Partition()
		r.partitions[key] = append(r.partitions[key], len(r.reference))
		r.reference = append(r.reference, row)
	}
	for c := range r.ranges {
		r.ranges[c] = profile.Global[c].Range()
	}
	return profile, nil
}

// Generate copies a donor row's vitals into each target row, perturbed by
// uniform jitter of up to JitterFraction of the column range. A label flip
// draws the donor from the other arm; the target row keeps its own arm.
func (r *Resampling) Generate(profile *stats.Profile, req vitals.GenerationRequest, rng *rand.Rand) (vitals.Table, *vitals.Diagnostics, error) {
	if err := requireProfile(profile); err != nil {
		return nil, nil, err
	}
	if len(r.reference) == 0 {
		return nil, nil, core.ErrNotFitted
	}
	diag := vitals.NewDiagnostics(r.Kind().String())
	rows := rowsFor(profile, req, rng)
	schedule := req.EffectiveSchedule()

	for i := range rows {
		key := rows[i].Partition()
		if r.cfg.FlipProbability > 0 && rng.Float64() < r.cfg.FlipProbability {
			key.Arm = key.Arm.Opposite()
		}
		donor := r.reference[r.donor(key, schedule, diag, rng)]

		values := donor.Values()
		if r.cfg.JitterFraction > 0 {
			for c := range values {
				values[c] += (2*rng.Float64() - 1) * r.cfg.JitterFraction * r.ranges[c]
			}
		}
		rows[i].SetValues(values)
	}
	return rows, diag, nil
}

// donor picks a reference row index for key, falling back when the partition is empty
func (r *Resampling) donor(key vitals.PartitionKey, schedule vitals.Schedule, diag *vitals.Diagnostics, rng *rand.Rand) int {
	if pool := r.partitions[key]; len(pool) > 0 {
		return pool[rng.Intn(len(pool))]
	}

	if r.cfg.Fallback == FallbackNearest {
		if sub, ok := r.nearest(key, schedule); ok {
			diag.Warn(vitals.WarnPartitionFallback, &key, "no reference rows for %s; drawing from %s", key, sub)
			pool := r.partitions[sub]
			return pool[rng.Intn(len(pool))]
		}
	}
	diag.Warn(vitals.WarnPartitionFallback, &key, "no reference rows for %s; drawing from the whole reference", key)
	return rng.Intn(len(r.reference))
}

// nearest finds the same-arm partition whose visit is closest in the
// request's schedule order, preferring the earlier visit on ties
func (r *Resampling) nearest(key vitals.PartitionKey, schedule vitals.Schedule) (vitals.PartitionKey, bool) {
	at := schedule.IndexOf(key.Visit)
	if at < 0 {
		return vitals.PartitionKey{}, false
	}
	for dist := 1; dist < len(schedule); dist++ {
		for _, idx := range []int{at - dist, at + dist} {
			if idx < 0 || idx >= len(schedule) {
				continue
			}
			candidate := vitals.PartitionKey{Visit: schedule[idx], Arm: key.Arm}
			if len(r.partitions[candidate]) > 0 {
				return candidate, true
			}
		}
	}
	return vitals.PartitionKey{}, false
}
