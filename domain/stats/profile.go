package stats

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"trialsynth/domain/vitals"
)

// ColumnStats summarizes one numeric column
type ColumnStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Range is the observed spread of the column
func (c ColumnStats) Range() float64 {
	return c.Max - c.Min
}

// ConditionalStats summarizes the numeric columns inside one (visit, arm) partition
type ConditionalStats struct {
	Mean [vitals.NumColumns]float64 `json:"mean"`
	Std  [vitals.NumColumns]float64 `json:"std"`
	N    int                        `json:"n"`
}

// CategoryFrequency is one level of a categorical frequency table
type CategoryFrequency struct {
	Level      string  `json:"level"`
	Count      int     `json:"count"`
	Proportion float64 `json:"proportion"`
}

// Profile is the learned statistical summary of a reference table. It is
// built once at fit time and never mutated afterwards.
type Profile struct {
	N           int                                      `json:"n"`
	DroppedRows int                                      `json:"dropped_rows"`
	Global      [vitals.NumColumns]ColumnStats           `json:"global"`
	Correlation *mat.SymDense                            `json:"-"`
	Cholesky    *mat.TriDense                            `json:"-"`
	Regularized bool                                     `json:"regularized"`
	Conditional map[vitals.PartitionKey]ConditionalStats `json:"-"`

	// Visits holds the observed visits in order of first appearance
	Visits         vitals.Schedule     `json:"visits"`
	VisitFrequency []CategoryFrequency `json:"visit_frequency"`
	ArmFrequency   []CategoryFrequency `json:"arm_frequency"`
}

// Lookup returns the conditional statistics for a partition; ok is false
// when the reference table had no rows for it.
func (p *Profile) Lookup(key vitals.PartitionKey) (ConditionalStats, bool) {
	cs, ok := p.Conditional[key]
	return cs, ok
}

// Target returns the mean and std to aim for in a partition, falling back to
// the global statistics when the partition was never observed.
func (p *Profile) Target(key vitals.PartitionKey) (mean, std [vitals.NumColumns]float64, ok bool) {
	if cs, found := p.Conditional[key]; found {
		return cs.Mean, cs.Std, true
	}
	for i := range p.Global {
		mean[i] = p.Global[i].Mean
		std[i] = p.Global[i].Std
	}
	return mean, std, false
}

// CorrelationAt returns the learned correlation between two columns
func (p *Profile) CorrelationAt(a, b vitals.Column) float64 {
	return p.Correlation.At(int(a), int(b))
}

// Partitions returns the observed partition keys in schedule then arm order
func (p *Profile) Partitions() []vitals.PartitionKey {
	keys := make([]vitals.PartitionKey, 0, len(p.Conditional))
	for k := range p.Conditional {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		vi, vj := p.Visits.IndexOf(keys[i].Visit), p.Visits.IndexOf(keys[j].Visit)
		if vi != vj {
			return vi < vj
		}
		return keys[i].Arm < keys[j].Arm
	})
	return keys
}

// SampleLevel draws a level from a frequency table given a uniform variate in [0,1)
func SampleLevel(freq []CategoryFrequency, u float64) string {
	acc := 0.0
	for _, f := range freq {
		acc += f.Proportion
		if u < acc {
			return f.Level
		}
	}
	if len(freq) == 0 {
		return ""
	}
	return freq[len(freq)-1].Level
}
