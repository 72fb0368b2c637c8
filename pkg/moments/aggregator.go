// Package moments reduces raw per-student marks into per-center
// distributional features.
package moments

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/examlens/examlens/pkg/dataset"
)

// Minimum group sizes for each moment estimator. Smaller groups yield a
// missing value for that moment, never zero.
const (
	minStdDev   = 2
	minSkewness = 3
	minKurtosis = 4
)

// Aggregate groups student records by center id and computes the sample
// standard deviation, the adjusted Fisher-Pearson skewness and the excess
// kurtosis of each group's marks. Output is ordered by center id.
func Aggregate(records []dataset.StudentRecord) []dataset.CenterFeatures {
	groups := make(map[string][]float64)
	for _, r := range records {
		groups[r.CenterID] = append(groups[r.CenterID], r.Marks)
	}

	features := make([]dataset.CenterFeatures, 0, len(groups))
	for id, marks := range groups {
		features = append(features, describe(id, marks))
	}
	sort.Slice(features, func(i, j int) bool {
		return features[i].CenterID < features[j].CenterID
	})
	return features
}

func describe(centerID string, marks []float64) dataset.CenterFeatures {
	f := dataset.CenterFeatures{CenterID: centerID}
	n := len(marks)
	if n < minStdDev {
		return f
	}

	sd, err := stats.StandardDeviationSample(marks)
	if err != nil {
		return f
	}
	f.StdDev = dataset.Some(sd)

	// A zero-variance group has no defined shape: skewness and kurtosis stay
	// missing rather than dividing by zero.
	if sd == 0 {
		return f
	}

	mean, err := stats.Mean(marks)
	if err != nil {
		return f
	}

	var sum3, sum4 float64
	for _, x := range marks {
		z := (x - mean) / sd
		z3 := z * z * z
		sum3 += z3
		sum4 += z3 * z
	}

	fn := float64(n)
	if n >= minSkewness {
		f.Skewness = dataset.Some(fn / ((fn - 1) * (fn - 2)) * sum3)
	}
	if n >= minKurtosis {
		term := fn * (fn + 1) / ((fn - 1) * (fn - 2) * (fn - 3)) * sum4
		adj := 3 * (fn - 1) * (fn - 1) / ((fn - 2) * (fn - 3))
		f.Kurtosis = dataset.Some(term - adj)
	}
	return f
}
