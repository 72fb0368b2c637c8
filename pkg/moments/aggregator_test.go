package moments

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examlens/examlens/pkg/dataset"
)

func records(centerID string, marks ...float64) []dataset.StudentRecord {
	out := make([]dataset.StudentRecord, len(marks))
	for i, m := range marks {
		out[i] = dataset.StudentRecord{CenterID: centerID, Marks: m}
	}
	return out
}

func TestAggregateMoments(t *testing.T) {
	tests := []struct {
		name  string
		marks []float64

		wantStdDev   dataset.Float
		wantSkewness dataset.Float
		wantKurtosis dataset.Float
	}{
		{
			name:         "symmetric group",
			marks:        []float64{1, 2, 3, 4, 5},
			wantStdDev:   dataset.Some(math.Sqrt(2.5)),
			wantSkewness: dataset.Some(0),
			wantKurtosis: dataset.Some(-1.2),
		},
		{
			name:         "right-skewed group",
			marks:        []float64{1, 2, 3, 4, 10},
			wantStdDev:   dataset.Some(math.Sqrt(12.5)),
			wantSkewness: dataset.Some(1.6970563), // adjusted Fisher-Pearson, as pandas computes it
			wantKurtosis: dataset.Some(3.1520000),
		},
		{
			name:       "single student",
			marks:      []float64{400},
			wantStdDev: dataset.Float{},
		},
		{
			name:       "two students have spread but no shape",
			marks:      []float64{300, 500},
			wantStdDev: dataset.Some(math.Sqrt(20000)),
		},
		{
			name:         "three students gain skewness only",
			marks:        []float64{1, 2, 6},
			wantStdDev:   dataset.Some(math.Sqrt(7)),
			wantSkewness: dataset.Some(1.4578630),
		},
		{
			name:       "identical marks have zero variance and no shape",
			marks:      []float64{550, 550, 550, 550, 550},
			wantStdDev: dataset.Some(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feats := Aggregate(records("C1", tt.marks...))
			require.Len(t, feats, 1)
			f := feats[0]

			assert.Equal(t, "C1", f.CenterID)
			assertMoment(t, tt.wantStdDev, f.StdDev, "std dev")
			assertMoment(t, tt.wantSkewness, f.Skewness, "skewness")
			assertMoment(t, tt.wantKurtosis, f.Kurtosis, "kurtosis")
		})
	}
}

func assertMoment(t *testing.T, want, got dataset.Float, name string) {
	t.Helper()
	require.Equal(t, want.Valid, got.Valid, "%s presence", name)
	if want.Valid {
		assert.InDelta(t, want.Value, got.Value, 1e-6, name)
	}
}

func TestAggregateGroups(t *testing.T) {
	// Five centers with group sizes {10, 10, 10, 2, 10}: the size-2 group
	// keeps its std dev but loses skewness and kurtosis.
	var input []dataset.StudentRecord
	for i, size := range []int{10, 10, 10, 2, 10} {
		id := string(rune('A' + i))
		marks := make([]float64, size)
		for j := range marks {
			marks[j] = float64(100 + 17*j + i)
		}
		input = append(input, records(id, marks...)...)
	}

	feats := Aggregate(input)
	require.Len(t, feats, 5)

	for _, f := range feats {
		assert.True(t, f.StdDev.Valid, "center %s std dev", f.CenterID)
		if f.CenterID == "D" {
			assert.False(t, f.Skewness.Valid, "size-2 group must have missing skewness")
			assert.False(t, f.Kurtosis.Valid, "size-2 group must have missing kurtosis")
		} else {
			assert.True(t, f.Skewness.Valid, "center %s skewness", f.CenterID)
			assert.True(t, f.Kurtosis.Valid, "center %s kurtosis", f.CenterID)
		}
	}
}

func TestAggregateOrdering(t *testing.T) {
	input := append(records("Z9", 1, 2, 3), records("A1", 4, 5, 6)...)
	feats := Aggregate(input)

	require.Len(t, feats, 2)
	assert.Equal(t, "A1", feats[0].CenterID)
	assert.Equal(t, "Z9", feats[1].CenterID)
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, Aggregate(nil))
}
