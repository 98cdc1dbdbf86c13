package constraints

import (
	"fmt"
	"math"

	"trialsynth/domain/vitals"
)

// saturationTolerance is the realized-versus-target gap below which
// calibration counts as exact.
const saturationTolerance = 1e-6

// Calibrate shifts the Active arm's endpoint column at the endpoint visit so
// that the Active minus Placebo mean difference equals target, then re-clips.
// Clipping can leave the realized effect short of the target; the report
// carries the realized value and Saturated is set when that happens.
//
// A shifted pressure that ends up on the wrong side of its partner moves the
// partner instead, so the endpoint value itself is never disturbed.
func Calibrate(t vitals.Table, target float64, endpointVisit string, column vitals.Column) (vitals.Table, vitals.CalibrationReport) {
	out := t.Clone()
	report := vitals.CalibrationReport{
		Column:        column,
		EndpointVisit: endpointVisit,
		Target:        target,
	}

	before, ok := armDifference(out, endpointVisit, column)
	if !ok {
		report.Skipped = true
		report.Reason = fmt.Sprintf("both arms needed at %q to calibrate %s", endpointVisit, column)
		return out, report
	}
	report.Before = before
	report.Adjustment = target - before

	for i := range out {
		r := &out[i]
		if r.TreatmentArm != vitals.ArmActive || r.VisitName != endpointVisit {
			continue
		}
		shifted := r.Value(column) + report.Adjustment
		clipped := column.Clip(shifted)
		if clipped != shifted {
			report.ClippedRows++
		}
		r.Set(column, clipped)
		report.ShiftedRows++

		if repairPartner(r, column) {
			report.RepairedRows++
		}
	}

	report.Realized, _ = armDifference(out, endpointVisit, column)
	report.Saturated = math.Abs(report.Realized-target) > saturationTolerance
	return out, report
}

// repairPartner restores systolic > diastolic by moving the pressure that is
// not being calibrated.
func repairPartner(r *vitals.VitalRecord, column vitals.Column) bool {
	if r.SystolicBP > r.DiastolicBP {
		return false
	}
	switch column {
	case vitals.SystolicBP:
		r.DiastolicBP = vitals.DiastolicBP.Clip(r.SystolicBP - PairOffset)
	case vitals.DiastolicBP:
		r.SystolicBP = vitals.SystolicBP.Clip(r.DiastolicBP + PairOffset)
	default:
		EnforceRecord(r)
	}
	return true
}
