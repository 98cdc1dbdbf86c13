package profiling

import (
	"trialsynth/domain/core"
	domainStats "trialsynth/domain/stats"
	"trialsynth/domain/vitals"
)

// Learner fits statistical profiles from reference tables
type Learner struct {
	// EigenFloor is the smallest eigenvalue kept when regularizing a correlation matrix
	EigenFloor float64
	// MinRows is the smallest usable reference size; std is undefined below 2
	MinRows int
}

// NewLearner creates a learner with sensible defaults
func NewLearner() *Learner {
	return &Learner{
		EigenFloor: 1e-6,
		MinRows:    2,
	}
}

// Fit learns a profile from a reference table. Rows with non-finite vitals
// are dropped and counted.
func (l *Learner) Fit(reference vitals.Table) (*domainStats.Profile, error) {
	rows := make(vitals.Table, 0, len(reference))
	for _, r := range reference {
		if r.Complete() {
			rows = append(rows, r)
		}
	}
	minRows := l.MinRows
	if minRows < 2 {
		minRows = 2
	}
	if len(rows) < minRows {
		return nil, core.NewInsufficientDataError("reference table", len(rows), minRows)
	}

	profile := &domainStats.Profile{
		N:           len(rows),
		DroppedRows: len(reference) - len(rows),
	}

	columns := make([][]float64, vitals.NumColumns)
	for _, c := range vitals.NumericColumns {
		columns[c] = rows.Column(c)
		summary, err := summarizeColumn(columns[c])
		if err != nil {
			return nil, err
		}
		profile.Global[c] = summary
	}

	corr, lower, regularized, err := factorize(correlationMatrix(columns), l.EigenFloor)
	if err != nil {
		return nil, err
	}
	profile.Correlation = corr
	profile.Cholesky = lower
	profile.Regularized = regularized

	profile.Visits = rows.Visits()
	profile.Conditional = l.conditionalStats(rows, profile)
	profile.VisitFrequency, profile.ArmFrequency = frequencies(rows, profile.Visits)

	return profile, nil
}

// conditionalStats partitions rows by (visit, arm); empty partitions are absent
func (l *Learner) conditionalStats(rows vitals.Table, profile *domainStats.Profile) map[vitals.PartitionKey]domainStats.ConditionalStats {
	groups := make(map[vitals.PartitionKey][]int)
	for i, r := range rows {
		key := r.Partition()
		groups[key] = append(groups[key], i)
	}

	out := make(map[vitals.PartitionKey]domainStats.ConditionalStats, len(groups))
	for key, idx := range groups {
		cs := domainStats.ConditionalStats{N: len(idx)}
		for _, c := range vitals.NumericColumns {
			data := make([]float64, len(idx))
			for k, i := range idx {
				data[k] = rows[i].Value(c)
			}
			cs.Mean[c], cs.Std[c] = partitionMoments(data, profile.Global[c].Std)
		}
		out[key] = cs
	}
	return out
}

func frequencies(rows vitals.Table, visits vitals.Schedule) (visitFreq, armFreq []domainStats.CategoryFrequency) {
	visitCounts := make(map[string]int)
	armCounts := make(map[vitals.Arm]int)
	for _, r := range rows {
		visitCounts[r.VisitName]++
		armCounts[r.TreatmentArm]++
	}
	total := float64(len(rows))

	for _, v := range visits {
		visitFreq = append(visitFreq, domainStats.CategoryFrequency{
			Level:      v,
			Count:      visitCounts[v],
			Proportion: float64(visitCounts[v]) / total,
		})
	}
	for _, a := range vitals.Arms {
		if armCounts[a] == 0 {
			continue
		}
		armFreq = append(armFreq, domainStats.CategoryFrequency{
			Level:      string(a),
			Count:      armCounts[a],
			Proportion: float64(armCounts[a]) / total,
		})
	}
	return visitFreq, armFreq
}
