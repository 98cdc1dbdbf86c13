package profiling

import (
	"math"

	"github.com/montanaflynn/stats"

	domainStats "trialsynth/domain/stats"
)

// summarizeColumn computes mean, sample standard deviation and observed range
func summarizeColumn(data []float64) (domainStats.ColumnStats, error) {
	var summary domainStats.ColumnStats

	mean, err := stats.Mean(data)
	if err != nil {
		return summary, err
	}

	stdDev := 0.0
	if len(data) > 1 {
		stdDev, err = stats.StandardDeviationSample(data)
		if err != nil {
			return summary, err
		}
	}

	min, err := stats.Min(data)
	if err != nil {
		return summary, err
	}

	max, err := stats.Max(data)
	if err != nil {
		return summary, err
	}

	summary.Mean = mean
	summary.Std = stdDev
	summary.Min = min
	summary.Max = max
	return summary, nil
}

// partitionMoments computes mean and sample std for a partition column.
// Partitions with fewer than two rows borrow the global std since a sample
// std is undefined for them.
func partitionMoments(data []float64, globalStd float64) (mean, std float64) {
	mean, err := stats.Mean(data)
	if err != nil {
		return math.NaN(), globalStd
	}
	if len(data) < 2 {
		return mean, globalStd
	}
	std, err = stats.StandardDeviationSample(data)
	if err != nil {
		return mean, globalStd
	}
	return mean, std
}
