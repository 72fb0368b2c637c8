package detectors

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagTopCount(t *testing.T) {
	tests := []struct {
		name          string
		n             int
		contamination float64
		wantFlagged   int
	}{
		{"spec scenario", 500, 0.02, 10},
		{"rounds up", 100, 0.015, 2},
		{"single point population", 1, 0.5, 1},
		{"tiny fraction still flags one", 10, 0.001, 1},
		{"large fraction", 8, 0.99, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := make([]Score, tt.n)
			for i := range scores {
				scores[i] = Score{
					CenterID: fmt.Sprintf("C%05d", i),
					Value:    float64(i) / float64(tt.n),
				}
			}

			threshold, err := FlagTop(scores, tt.contamination)
			require.NoError(t, err)

			var flagged int
			minFlagged := math.Inf(1)
			for _, s := range scores {
				if s.IsAnomaly {
					flagged++
					if s.Value < minFlagged {
						minFlagged = s.Value
					}
				}
			}
			assert.Equal(t, tt.wantFlagged, flagged)
			assert.Equal(t, minFlagged, threshold)

			// The flagged set is exactly the top of the score distribution.
			for _, s := range scores {
				assert.Equal(t, s.Value >= threshold, s.IsAnomaly)
			}
		})
	}
}

func TestFlagTopTieBreak(t *testing.T) {
	// Four centers share the top score; the flag budget of 2 goes to the
	// lexicographically smallest center ids.
	scores := []Score{
		{CenterID: "C4", Value: 0.9},
		{CenterID: "C2", Value: 0.9},
		{CenterID: "C3", Value: 0.9},
		{CenterID: "C1", Value: 0.9},
		{CenterID: "C0", Value: 0.1},
	}

	_, err := FlagTop(scores, 0.4)
	require.NoError(t, err)

	flagged := make(map[string]bool)
	for _, s := range scores {
		flagged[s.CenterID] = s.IsAnomaly
	}
	assert.True(t, flagged["C1"])
	assert.True(t, flagged["C2"])
	assert.False(t, flagged["C3"])
	assert.False(t, flagged["C4"])
	assert.False(t, flagged["C0"])
}

func TestFlagTopInvalidContamination(t *testing.T) {
	for _, contamination := range []float64{0, -0.1, 1, 1.5} {
		_, err := FlagTop([]Score{{CenterID: "C1", Value: 0.5}}, contamination)

		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "contamination %v", contamination)
	}
}

func TestFlagTopEmpty(t *testing.T) {
	threshold, err := FlagTop(nil, 0.1)
	require.NoError(t, err)
	assert.Zero(t, threshold)
}
