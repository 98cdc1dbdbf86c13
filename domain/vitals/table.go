package vitals

import (
	"trialsynth/domain/core"
)

// Table is an ordered sequence of vital records. Pipeline stages take a table
// by value and return a new one; none of them keeps a reference to its input.
type Table []VitalRecord

// Clone returns a copy that shares no storage with t
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Column extracts one numeric column
func (t Table) Column(c Column) []float64 {
	out := make([]float64, len(t))
	for i, r := range t {
		out[i] = r.Value(c)
	}
	return out
}

// Select extracts one numeric column for rows in a (visit, arm) partition
func (t Table) Select(c Column, key PartitionKey) []float64 {
	var out []float64
	for _, r := range t {
		if r.VisitName == key.Visit && r.TreatmentArm == key.Arm {
			out = append(out, r.Value(c))
		}
	}
	return out
}

// Keys returns the join keys in row order
func (t Table) Keys() []RowKey {
	out := make([]RowKey, len(t))
	for i, r := range t {
		out[i] = r.Key()
	}
	return out
}

// Visits returns the distinct visits in order of first appearance
func (t Table) Visits() Schedule {
	seen := make(map[string]bool)
	var out Schedule
	for _, r := range t {
		if !seen[r.VisitName] {
			seen[r.VisitName] = true
			out = append(out, r.VisitName)
		}
	}
	return out
}

// InvalidRows returns the indexes of rows violating range or structural invariants
func (t Table) InvalidRows() []int {
	var out []int
	for i, r := range t {
		if !r.Valid() {
			out = append(out, i)
		}
	}
	return out
}

// Fingerprint hashes the table's canonical encoding
func (t Table) Fingerprint() core.TableHash {
	rows := make([]string, len(t))
	for i, r := range t {
		rows[i] = r.canonical()
	}
	return core.ComputeTableHash(rows)
}
