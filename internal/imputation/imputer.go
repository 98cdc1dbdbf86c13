package imputation

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"

	"trialsynth/domain/core"
	"trialsynth/domain/vitals"
)

// MinTrainingRows is the fewest complete reference rows the chained models accept
const MinTrainingRows = 5

// Imputer holds one fitted model per numeric column, each predicting its
// column from the other three.
type Imputer struct {
	MaxIter         int
	SamplePosterior bool

	models [vitals.NumColumns]Regressor
	means  [vitals.NumColumns]float64
}

// Fit trains the chained models on the complete rows of reference
func Fit(reference vitals.Table, factory RegressorFactory, maxIter int, samplePosterior bool) (*Imputer, error) {
	var rows [][vitals.NumColumns]float64
	for _, r := range reference {
		if r.Complete() {
			rows = append(rows, r.Values())
		}
	}
	if len(rows) < MinTrainingRows {
		return nil, core.NewInsufficientDataError("imputation training set", len(rows), MinTrainingRows)
	}

	imp := &Imputer{MaxIter: maxIter, SamplePosterior: samplePosterior}
	for _, c := range vitals.NumericColumns {
		x := make([][]float64, len(rows))
		y := make([]float64, len(rows))
		for i, row := range rows {
			x[i] = predictors(row, c)
			y[i] = row[c]
		}
		m, err := stats.Mean(y)
		if err != nil {
			return nil, err
		}
		imp.means[c] = m

		model := factory(int(c))
		if err := model.Fit(x, y); err != nil {
			return nil, fmt.Errorf("fitting %s model: %w", c, err)
		}
		imp.models[c] = model
	}
	return imp, nil
}

// Means returns the training column means used to seed templates
func (imp *Imputer) Means() [vitals.NumColumns]float64 {
	return imp.means
}

// Model returns the fitted model for a column
func (imp *Imputer) Model(c vitals.Column) Regressor {
	return imp.models[c]
}

// Impute fills every cell whose mask entry is true. Missing cells start at
// the training means; each round then re-predicts every missing cell column
// by column from the current values of the others, adding residual noise when
// SamplePosterior is set, and clips to the physiological range. values is
// modified in place. The fitted models are only read, so one Imputer may
// serve concurrent callers with their own rng.
func (imp *Imputer) Impute(values [][vitals.NumColumns]float64, missing [][vitals.NumColumns]bool, rng *rand.Rand) int {
	filled := 0
	for i := range values {
		for _, c := range vitals.NumericColumns {
			if missing[i][c] || math.IsNaN(values[i][c]) {
				missing[i][c] = true
				values[i][c] = imp.means[c]
				filled++
			}
		}
	}
	if filled == 0 {
		return 0
	}

	for iter := 0; iter < imp.MaxIter; iter++ {
		for _, c := range vitals.NumericColumns {
			model := imp.models[c]
			noise := model.ResidualStd()
			for i := range values {
				if !missing[i][c] {
					continue
				}
				v := model.Predict(predictors(values[i], c))
				if imp.SamplePosterior {
					v += rng.NormFloat64() * noise
				}
				values[i][c] = c.Clip(v)
			}
		}
	}
	return filled
}

// MissingRate is the dropout probability at visit index i of n, rising
// linearly from base at the first visit to maxRate at the last.
func MissingRate(i, n int, base, maxRate float64) float64 {
	if n <= 1 {
		return base
	}
	return base + (maxRate-base)*float64(i)/float64(n-1)
}

// InduceMissing marks cells missing with the visit-dependent rate. Rows whose
// visit is not in schedule use the base rate.
func InduceMissing(keys []vitals.RowKey, schedule vitals.Schedule, base, maxRate float64, rng *rand.Rand) [][vitals.NumColumns]bool {
	mask := make([][vitals.NumColumns]bool, len(keys))
	for i, k := range keys {
		rate := base
		if idx := schedule.IndexOf(k.Visit); idx >= 0 {
			rate = MissingRate(idx, len(schedule), base, maxRate)
		}
		for _, c := range vitals.NumericColumns {
			mask[i][c] = rng.Float64() < rate
		}
	}
	return mask
}

// RoundRecord rounds each column to its recorded precision
func RoundRecord(r *vitals.VitalRecord) {
	for _, c := range vitals.NumericColumns {
		v, err := stats.Round(r.Value(c), c.Spec().Decimals)
		if err == nil {
			r.Set(c, v)
		}
	}
}

func predictors(row [vitals.NumColumns]float64, target vitals.Column) []float64 {
	out := make([]float64, 0, vitals.NumColumns-1)
	for _, c := range vitals.NumericColumns {
		if c != target {
			out = append(out, row[c])
		}
	}
	return out
}
