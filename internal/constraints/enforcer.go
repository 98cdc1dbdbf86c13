// Package constraints keeps generated tables physiologically valid and
// calibrates the primary-endpoint treatment effect.
package constraints

import (
	"math"

	"trialsynth/domain/vitals"
)

// PairOffset is how far each pressure is pushed from their common mean when a
// row has systolic at or below diastolic.
const PairOffset = 10.0

// Report counts what enforcement changed
type Report struct {
	ClippedCells int `json:"clipped_cells"`
	RepairedRows int `json:"repaired_rows"`
}

// Add accumulates another report
func (r *Report) Add(other Report) {
	r.ClippedCells += other.ClippedCells
	r.RepairedRows += other.RepairedRows
}

// Enforce returns a copy of t with every value clipped to its range and every
// systolic/diastolic inversion repaired.
func Enforce(t vitals.Table) (vitals.Table, Report) {
	out := t.Clone()
	report := EnforceInPlace(out)
	return out, report
}

// EnforceInPlace applies enforcement to a working buffer the caller owns
func EnforceInPlace(t vitals.Table) Report {
	var report Report
	for i := range t {
		clipped, repaired := EnforceRecord(&t[i])
		report.ClippedCells += clipped
		if repaired {
			report.RepairedRows++
		}
	}
	return report
}

// EnforceRecord clips one record and repairs a systolic/diastolic inversion by
// recentring both on their mean and pushing them PairOffset either side of it.
func EnforceRecord(r *vitals.VitalRecord) (clipped int, repaired bool) {
	clipped = clipRecord(r)
	if r.SystolicBP > r.DiastolicBP {
		return clipped, false
	}

	mid := (r.SystolicBP + r.DiastolicBP) / 2
	r.SystolicBP = mid + PairOffset
	r.DiastolicBP = mid - PairOffset
	clipRecord(r)
	return clipped, true
}

func clipRecord(r *vitals.VitalRecord) int {
	n := 0
	for _, c := range vitals.NumericColumns {
		v := r.Value(c)
		if math.IsNaN(v) {
			spec := c.Spec()
			r.Set(c, (spec.Min+spec.Max)/2)
			n++
			continue
		}
		if cv := c.Clip(v); cv != v {
			r.Set(c, cv)
			n++
		}
	}
	return n
}
