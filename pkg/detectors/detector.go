// Package detectors provides unsupervised anomaly detection over feature
// vectors and the contamination-based decision rule applied to its scores.
package detectors

import (
	"fmt"
	"math"
	"sort"
)

// Detector is the common interface for anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Predict returns anomaly scores for the given samples.
	// Scores are normalized to (0, 1] where higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Score is the anomaly verdict for one entity.
type Score struct {
	// CenterID identifies the scored entity.
	CenterID string
	// Value is the normalized anomaly score in (0, 1].
	Value float64
	// IsAnomaly marks the entity as one of the contamination-quantile top.
	IsAnomaly bool
}

// ConfigurationError reports an invalid detector or pipeline parameter.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// FlagTop marks exactly ceil(contamination*n) of the highest-scoring entries
// as anomalies, breaking score ties by center id ascending so the verdict is
// deterministic. It returns the decision threshold: the score of the weakest
// flagged entry, reusable for classifying later batches.
func FlagTop(scores []Score, contamination float64) (float64, error) {
	if contamination <= 0 || contamination >= 1 {
		return 0, &ConfigurationError{
			Reason: fmt.Sprintf("contamination fraction %v outside (0, 1)", contamination),
		}
	}
	n := len(scores)
	if n == 0 {
		return 0, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		si, sj := scores[order[a]], scores[order[b]]
		if si.Value != sj.Value {
			return si.Value > sj.Value
		}
		return si.CenterID < sj.CenterID
	})

	k := int(math.Ceil(contamination * float64(n)))
	if k > n {
		k = n
	}
	for _, idx := range order[:k] {
		scores[idx].IsAnomaly = true
	}
	return scores[order[k-1]].Value, nil
}
