package vitals

import (
	"fmt"
)

// WarningKind classifies non-fatal generation diagnostics
type WarningKind string

const (
	// WarnMissingConditionalPartition: a requested (visit, arm) pair had no
	// learned conditional statistics and global statistics were used.
	WarnMissingConditionalPartition WarningKind = "missing_conditional_partition"
	// WarnCalibrationSaturation: clipping after the effect shift left the
	// realized effect short of the target.
	WarnCalibrationSaturation WarningKind = "calibration_saturation"
	// WarnCalibrationSkipped: an arm was absent at the endpoint visit.
	WarnCalibrationSkipped WarningKind = "calibration_skipped"
	// WarnStructureFallback: the Bayesian network used the expert DAG.
	WarnStructureFallback WarningKind = "structure_fallback"
	// WarnPartitionFallback: resampling drew from a substitute partition.
	WarnPartitionFallback WarningKind = "partition_fallback"
)

// Warning is one diagnostic; repeated warnings for the same kind and partition are counted
type Warning struct {
	Kind      WarningKind   `json:"kind"`
	Partition *PartitionKey `json:"partition,omitempty"`
	Message   string        `json:"message"`
	Count     int           `json:"count"`
}

// CalibrationReport describes what the effect calibrator did
type CalibrationReport struct {
	Column        Column  `json:"column"`
	EndpointVisit string  `json:"endpoint_visit"`
	Target        float64 `json:"target"`
	Before        float64 `json:"before"`
	Adjustment    float64 `json:"adjustment"`
	Realized      float64 `json:"realized"`
	ShiftedRows   int     `json:"shifted_rows"`
	ClippedRows   int     `json:"clipped_rows"`
	RepairedRows  int     `json:"repaired_rows"`
	Saturated     bool    `json:"saturated"`
	Skipped       bool    `json:"skipped"`
	Reason        string  `json:"reason,omitempty"`
}

// Shortfall is how far the realized effect missed the target
func (c CalibrationReport) Shortfall() float64 {
	return c.Target - c.Realized
}

type warnKey struct {
	kind      WarningKind
	partition PartitionKey
}

// Diagnostics collects fallbacks and repairs observed during one generation
type Diagnostics struct {
	Strategy     string             `json:"strategy"`
	Warnings     []Warning          `json:"warnings,omitempty"`
	ClippedCells int                `json:"clipped_cells"`
	RepairedRows int                `json:"repaired_rows"`
	Calibration  *CalibrationReport `json:"calibration,omitempty"`

	index map[warnKey]int
}

// NewDiagnostics creates an empty diagnostics record for a strategy
func NewDiagnostics(strategy string) *Diagnostics {
	return &Diagnostics{Strategy: strategy}
}

// Warn records a warning, folding repeats of the same kind and partition into one entry
func (d *Diagnostics) Warn(kind WarningKind, partition *PartitionKey, format string, args ...interface{}) {
	if d.index == nil {
		d.index = make(map[warnKey]int)
	}
	key := warnKey{kind: kind}
	if partition != nil {
		key.partition = *partition
	}
	if i, ok := d.index[key]; ok {
		d.Warnings[i].Count++
		return
	}
	w := Warning{Kind: kind, Message: fmt.Sprintf(format, args...), Count: 1}
	if partition != nil {
		p := *partition
		w.Partition = &p
	}
	d.index[key] = len(d.Warnings)
	d.Warnings = append(d.Warnings, w)
}

// Has reports whether any warning of kind was recorded
func (d *Diagnostics) Has(kind WarningKind) bool {
	return d.Count(kind) > 0
}

// Count returns the number of occurrences of kind
func (d *Diagnostics) Count(kind WarningKind) int {
	if d == nil {
		return 0
	}
	n := 0
	for _, w := range d.Warnings {
		if w.Kind == kind {
			n += w.Count
		}
	}
	return n
}

// Merge folds other into d; used when assembling chunked runs
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil {
		return
	}
	for _, w := range other.Warnings {
		for i := 0; i < w.Count; i++ {
			d.Warn(w.Kind, w.Partition, "%s", w.Message)
		}
	}
	d.ClippedCells += other.ClippedCells
	d.RepairedRows += other.RepairedRows
}
