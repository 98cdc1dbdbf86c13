package synth

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"trialsynth/domain/stats"
	"trialsynth/domain/vitals"
)

// rowsFor returns the skeleton a strategy fills. Explicit layouts and the
// balanced subjects-by-schedule design are reproduced as given. With
// SampleCategoricals on an implicit layout, each row keeps its subject but
// draws visit and arm independently from the learned frequencies. Visits are
// drawn only among the request's scheduled visits; when the reference saw
// none of them the scheduled visits are kept.
func rowsFor(profile *stats.Profile, req vitals.GenerationRequest, rng *rand.Rand) vitals.Table {
	rows := req.Layout().Skeleton()
	if !req.SampleCategoricals || req.Explicit() {
		return rows
	}
	visits := scheduledLevels(profile.VisitFrequency, req.EffectiveSchedule())
	if len(visits) == 0 || len(profile.ArmFrequency) == 0 {
		return rows
	}
	for i := range rows {
		rows[i].VisitName = stats.SampleLevel(visits, rng.Float64())
		rows[i].TreatmentArm = vitals.Arm(stats.SampleLevel(profile.ArmFrequency, rng.Float64()))
	}
	return rows
}

// scheduledLevels keeps the frequencies of scheduled visits, renormalized
func scheduledLevels(freq []stats.CategoryFrequency, schedule vitals.Schedule) []stats.CategoryFrequency {
	out := make([]stats.CategoryFrequency, 0, len(freq))
	total := 0
	for _, f := range freq {
		if schedule.Contains(f.Level) && f.Count > 0 {
			out = append(out, f)
			total += f.Count
		}
	}
	for i := range out {
		out[i].Proportion = float64(out[i].Count) / float64(total)
	}
	return out
}

// correlatedSampler draws standard-normal vectors with the profile's
// correlation via x = L·z.
type correlatedSampler struct {
	lower *mat.TriDense
	z     *mat.VecDense
	x     *mat.VecDense
}

func newCorrelatedSampler(profile *stats.Profile) *correlatedSampler {
	return &correlatedSampler{
		lower: profile.Cholesky,
		z:     mat.NewVecDense(vitals.NumColumns, nil),
		x:     mat.NewVecDense(vitals.NumColumns, nil),
	}
}

func (s *correlatedSampler) draw(rng *rand.Rand) [vitals.NumColumns]float64 {
	for i := 0; i < vitals.NumColumns; i++ {
		s.z.SetVec(i, rng.NormFloat64())
	}
	s.x.MulVec(s.lower, s.z)
	var out [vitals.NumColumns]float64
	for i := range out {
		out[i] = s.x.AtVec(i)
	}
	return out
}

// target returns the statistics a row aims for, recording a diagnostic when
// its partition was never observed
func target(profile *stats.Profile, key vitals.PartitionKey, diag *vitals.Diagnostics) (mean, std [vitals.NumColumns]float64) {
	mean, std, ok := profile.Target(key)
	if !ok {
		diag.Warn(vitals.WarnMissingConditionalPartition, &key,
			"no reference rows for %s; using global statistics", key)
	}
	return mean, std
}
