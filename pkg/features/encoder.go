// Package features turns master records into fixed-order numeric vectors:
// one-hot encoded geography plus z-score standardized numeric columns.
package features

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/examlens/examlens/pkg/dataset"
)

// MissingFeatureError reports a required numeric value absent at encoding
// time. The encoder never imputes; the caller decides whether to drop or
// impute the record and re-submit.
type MissingFeatureError struct {
	CenterID string
	Feature  string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("center %s: missing required feature %s", e.CenterID, e.Feature)
}

// DegenerateColumnError reports numeric columns with zero variance across the
// population. Scaling such a column is undefined; it carries no information
// and must be dropped by the caller.
type DegenerateColumnError struct {
	Columns []string
}

func (e *DegenerateColumnError) Error() string {
	return "zero-variance feature columns: " + strings.Join(e.Columns, ", ")
}

// ScalerState is the persistable fit state of an Encoder: the column layout
// and per-column standardization statistics. Scoring new records must reuse
// this exact state, never recompute it.
type ScalerState struct {
	Numeric     []string
	Categorical string
	Context     []string
	Categories  []string // sorted; Categories[0] is the dropped reference
	Means       []float64
	Stds        []float64
}

// Encoder maps master records to feature vectors. Fit establishes the column
// order and scaler statistics once; Transform reuses them for any later batch.
type Encoder struct {
	numeric     []string
	categorical string
	context     []string

	categories []string
	means      []float64
	stds       []float64
	fitted     bool
}

// NewEncoder creates an encoder over the given numeric feature names, one
// categorical field and any context-only fields. Context fields are excluded
// from the scored feature set but validated as known names.
func NewEncoder(numeric []string, categorical string, context ...string) *Encoder {
	return &Encoder{
		numeric:     append([]string(nil), numeric...),
		categorical: categorical,
		context:     append([]string(nil), context...),
	}
}

// FromState restores an encoder from persisted scaler state.
func FromState(s ScalerState) *Encoder {
	return &Encoder{
		numeric:     s.Numeric,
		categorical: s.Categorical,
		context:     s.Context,
		categories:  s.Categories,
		means:       s.Means,
		stds:        s.Stds,
		fitted:      true,
	}
}

// State returns the persistable fit state.
func (e *Encoder) State() ScalerState {
	return ScalerState{
		Numeric:     e.numeric,
		Categorical: e.categorical,
		Context:     e.context,
		Categories:  e.categories,
		Means:       e.means,
		Stds:        e.stds,
	}
}

// Fit computes per-column mean and standard deviation over the full record
// population and fixes the one-hot category ordering. Categories are sorted
// and the first becomes the dropped reference, so the layout is deterministic
// across runs. Zero-variance columns are reported in a single
// DegenerateColumnError; records with missing required values fail with a
// MissingFeatureError.
func (e *Encoder) Fit(records []dataset.MasterRecord) error {
	if len(records) == 0 {
		return errors.New("no records to fit")
	}

	seen := make(map[string]struct{})
	for i := range records {
		cat, ok := records[i].Categorical(e.categorical)
		if !ok {
			return fmt.Errorf("unknown categorical field %q", e.categorical)
		}
		seen[cat] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	means := make([]float64, len(e.numeric))
	stds := make([]float64, len(e.numeric))
	var degenerate []string
	for j, name := range e.numeric {
		col := make([]float64, 0, len(records))
		for i := range records {
			v, ok := records[i].Feature(name)
			if !ok {
				return fmt.Errorf("unknown numeric feature %q", name)
			}
			if !v.Valid {
				return &MissingFeatureError{CenterID: records[i].CenterID, Feature: name}
			}
			col = append(col, v.Value)
		}
		mean, err := stats.Mean(col)
		if err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		sd, err := stats.StandardDeviationPopulation(col)
		if err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		if sd == 0 {
			degenerate = append(degenerate, name)
			continue
		}
		means[j] = mean
		stds[j] = sd
	}
	if len(degenerate) > 0 {
		return &DegenerateColumnError{Columns: degenerate}
	}

	e.categories = categories
	e.means = means
	e.stds = stds
	e.fitted = true
	return nil
}

// Transform encodes one record using the fitted state. Categories never seen
// at fit time map to the all-zero encoding; new geographic values appear over
// time and are not an error.
func (e *Encoder) Transform(r *dataset.MasterRecord) ([]float64, error) {
	if !e.fitted {
		return nil, errors.New("encoder not fitted")
	}

	vec := make([]float64, len(e.numeric)+len(e.categories)-1)
	for j, name := range e.numeric {
		v, ok := r.Feature(name)
		if !ok {
			return nil, fmt.Errorf("unknown numeric feature %q", name)
		}
		if !v.Valid {
			return nil, &MissingFeatureError{CenterID: r.CenterID, Feature: name}
		}
		vec[j] = (v.Value - e.means[j]) / e.stds[j]
	}

	cat, ok := r.Categorical(e.categorical)
	if !ok {
		return nil, fmt.Errorf("unknown categorical field %q", e.categorical)
	}
	for k, c := range e.categories[1:] {
		if c == cat {
			vec[len(e.numeric)+k] = 1
			break
		}
	}
	return vec, nil
}

// TransformAll encodes a batch, preserving record order.
func (e *Encoder) TransformAll(records []dataset.MasterRecord) ([][]float64, error) {
	out := make([][]float64, len(records))
	for i := range records {
		vec, err := e.Transform(&records[i])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// FeatureNames returns the fixed column order of the encoded vector.
func (e *Encoder) FeatureNames() []string {
	names := append([]string(nil), e.numeric...)
	for _, c := range e.categories[1:] {
		names = append(names, e.categorical+"="+c)
	}
	return names
}

// DropColumns removes the named numeric columns from the feature list on an
// unfitted encoder, typically after Fit reported them degenerate.
func (e *Encoder) DropColumns(cols ...string) {
	drop := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		drop[c] = struct{}{}
	}
	kept := e.numeric[:0]
	for _, name := range e.numeric {
		if _, ok := drop[name]; !ok {
			kept = append(kept, name)
		}
	}
	e.numeric = kept
	e.fitted = false
}

// NumericFeatures returns the current numeric feature list.
func (e *Encoder) NumericFeatures() []string {
	return append([]string(nil), e.numeric...)
}

// ImputeMean fills missing values in the named columns with the column mean
// over the records that do have the value, mutating records in place. This is
// the explicit caller-side recovery for centers whose group was too small for
// a moment estimate: after standardization an imputed cell sits at the column
// mean and contributes no isolation signal. The per-column means are returned
// so later batches can be imputed with the same statistics via Impute. A
// column with no valid values at all cannot be imputed and is an error.
func ImputeMean(records []dataset.MasterRecord, cols []string) (map[string]float64, error) {
	means := make(map[string]float64, len(cols))
	for _, name := range cols {
		var sum float64
		var count int
		for i := range records {
			v, ok := records[i].Feature(name)
			if !ok {
				return nil, fmt.Errorf("unknown numeric feature %q", name)
			}
			if v.Valid {
				sum += v.Value
				count++
			}
		}
		if count == 0 {
			return nil, fmt.Errorf("feature %s: no values present to impute from", name)
		}
		mean := sum / float64(count)
		means[name] = mean
		if count == len(records) {
			continue
		}
		for i := range records {
			if v, _ := records[i].Feature(name); !v.Valid {
				records[i].SetFeature(name, mean)
			}
		}
	}
	return means, nil
}

// Impute fills missing values in the mapped columns with previously computed
// column means, typically the training-time statistics persisted with a
// model. Records in place, like ImputeMean.
func Impute(records []dataset.MasterRecord, means map[string]float64) error {
	for name, mean := range means {
		for i := range records {
			v, ok := records[i].Feature(name)
			if !ok {
				return fmt.Errorf("unknown numeric feature %q", name)
			}
			if !v.Valid {
				records[i].SetFeature(name, mean)
			}
		}
	}
	return nil
}
