// Package pipeline wires the full scoring flow: aggregate student marks into
// per-center moments, merge onto center stats, encode feature vectors, train
// an isolation forest and join anomaly verdicts back onto the centers.
package pipeline

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/examlens/examlens/pkg/dataset"
	"github.com/examlens/examlens/pkg/detectors"
	"github.com/examlens/examlens/pkg/detectors/iforest"
	"github.com/examlens/examlens/pkg/features"
	"github.com/examlens/examlens/pkg/moments"
)

// Config holds the explicit parameter surface of a run. All fields are
// validated before any work starts; validation failures surface as a
// ConfigurationError.
type Config struct {
	// Trees is the number of isolation trees in the ensemble.
	Trees int `yaml:"trees" validate:"min=1"`

	// SampleSize is the per-tree subsample size; the effective size is
	// min(n, SampleSize) for n training centers.
	SampleSize int `yaml:"sample_size" validate:"min=2"`

	// Contamination is the assumed fraction of truly anomalous centers.
	// Exactly ceil(Contamination*n) centers are flagged.
	Contamination float64 `yaml:"contamination" validate:"gt=0,lt=1"`

	// Seed makes subsampling and splits reproducible.
	Seed int64 `yaml:"seed"`

	// NumericFeatures are the master-record fields fed to the model.
	NumericFeatures []string `yaml:"numeric_features" validate:"min=1"`

	// CategoricalField is one-hot encoded into the feature vector.
	CategoricalField string `yaml:"categorical_field" validate:"required"`

	// ContextFields are retained for reporting but excluded from scoring.
	ContextFields []string `yaml:"context_fields"`

	// TopN bounds the ranked anomalous subset in the report.
	TopN int `yaml:"top_n" validate:"min=1"`
}

// DefaultConfig mirrors the reference feature selection: performance gap,
// distribution shape, top-performer concentration, with center size kept as
// reporting context only.
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.015,
		Seed:          42,
		NumericFeatures: []string{
			dataset.FieldNationalGap,
			dataset.FieldSkewness,
			dataset.FieldKurtosis,
			dataset.FieldUltraHigh,
		},
		CategoricalField: dataset.FieldState,
		ContextFields:    []string{dataset.FieldTotalStudents},
		TopN:             10,
	}
}

var validate = validator.New()

// Validate checks the parameter surface.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &detectors.ConfigurationError{Reason: err.Error()}
	}
	return nil
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Pipeline owns the trained model state: the fitted encoder, the forest and
// the decision threshold. The state is created once at training time and
// reused, never recomputed, for scoring later batches.
type Pipeline struct {
	cfg         Config
	encoder     *features.Encoder
	forest      *iforest.IsolationForest
	imputeMeans map[string]float64
	threshold   float64
	trained     bool
}

// New creates a pipeline with a validated configuration.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg}, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run executes the full flow over one batch of student records and center
// stats and returns the assembled report. Centers whose groups were too small
// for a moment estimate are still scored: their missing values are imputed to
// the population column mean for scoring only, while the report keeps them
// missing.
func (p *Pipeline) Run(students []dataset.StudentRecord, centers []dataset.CenterStats) (*Report, error) {
	if len(centers) == 0 {
		return nil, errors.New("no centers to score")
	}

	feats := moments.Aggregate(students)
	master := dataset.BuildMaster(centers, feats)

	scores, err := p.train(master)
	if err != nil {
		return nil, err
	}

	return Assemble(master, scores)
}

func (p *Pipeline) train(master []dataset.MasterRecord) ([]detectors.Score, error) {
	// Impute into a scoring copy so reported values keep their missingness.
	scoring := make([]dataset.MasterRecord, len(master))
	copy(scoring, master)
	imputeMeans, err := features.ImputeMean(scoring, p.cfg.NumericFeatures)
	if err != nil {
		return nil, fmt.Errorf("encoding stage: %w", err)
	}

	enc := features.NewEncoder(p.cfg.NumericFeatures, p.cfg.CategoricalField, p.cfg.ContextFields...)
	if err := enc.Fit(scoring); err != nil {
		// Zero-variance columns carry no information; drop them and refit.
		var degenerate *features.DegenerateColumnError
		if !errors.As(err, &degenerate) {
			return nil, fmt.Errorf("encoding stage: %w", err)
		}
		enc.DropColumns(degenerate.Columns...)
		if len(enc.NumericFeatures()) == 0 {
			return nil, fmt.Errorf("encoding stage: %w", degenerate)
		}
		if err := enc.Fit(scoring); err != nil {
			return nil, fmt.Errorf("encoding stage: %w", err)
		}
	}

	matrix, err := enc.TransformAll(scoring)
	if err != nil {
		return nil, fmt.Errorf("encoding stage: %w", err)
	}

	forest := iforest.New(
		iforest.WithTrees(p.cfg.Trees),
		iforest.WithSampleSize(p.cfg.SampleSize),
		iforest.WithSeed(p.cfg.Seed),
	)
	if err := forest.Fit(matrix); err != nil {
		return nil, fmt.Errorf("forest stage: %w", err)
	}

	values, err := forest.Predict(matrix)
	if err != nil {
		return nil, fmt.Errorf("scoring stage: %w", err)
	}

	scores := make([]detectors.Score, len(master))
	for i := range master {
		scores[i] = detectors.Score{CenterID: master[i].CenterID, Value: values[i]}
	}
	threshold, err := detectors.FlagTop(scores, p.cfg.Contamination)
	if err != nil {
		return nil, err
	}

	p.encoder = enc
	p.forest = forest
	p.imputeMeans = imputeMeans
	p.threshold = threshold
	p.trained = true
	return scores, nil
}

// ScoreBatch scores new master records against the trained model without
// retraining: it reuses the persisted scaler state, the forest's trees and
// the training decision threshold. Centers whose groups were too small for a
// moment estimate are still scored: missing feature values are imputed with
// the training-time column means persisted alongside the model, never
// recomputed from the new batch.
func (p *Pipeline) ScoreBatch(records []dataset.MasterRecord) ([]detectors.Score, error) {
	if !p.trained {
		return nil, errors.New("pipeline not trained")
	}

	scoring := make([]dataset.MasterRecord, len(records))
	copy(scoring, records)
	if err := features.Impute(scoring, p.imputeMeans); err != nil {
		return nil, fmt.Errorf("encoding stage: %w", err)
	}

	matrix, err := p.encoder.TransformAll(scoring)
	if err != nil {
		return nil, fmt.Errorf("encoding stage: %w", err)
	}
	values, err := p.forest.Predict(matrix)
	if err != nil {
		return nil, fmt.Errorf("scoring stage: %w", err)
	}

	scores := make([]detectors.Score, len(records))
	for i := range records {
		scores[i] = detectors.Score{
			CenterID:  records[i].CenterID,
			Value:     values[i],
			IsAnomaly: values[i] >= p.threshold,
		}
	}
	return scores, nil
}

// Threshold returns the decision threshold fixed at training time.
func (p *Pipeline) Threshold() float64 {
	return p.threshold
}

// modelState is the persisted form of a trained pipeline.
type modelState struct {
	Config      Config
	Scaler      features.ScalerState
	Forest      []byte
	ImputeMeans map[string]float64
	Threshold   float64
}

// Save serializes the trained model: scaler statistics, category ordering,
// imputation means, every tree's split structure and the decision threshold.
func (p *Pipeline) Save() ([]byte, error) {
	if !p.trained {
		return nil, errors.New("pipeline not trained")
	}

	forestBlob, err := p.forest.Save()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err = enc.Encode(modelState{
		Config:      p.cfg,
		Scaler:      p.encoder.State(),
		Forest:      forestBlob,
		ImputeMeans: p.imputeMeans,
		Threshold:   p.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores a trained pipeline from its serialized form.
func Load(data []byte) (*Pipeline, error) {
	var state modelState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return nil, err
	}

	forest := iforest.New()
	if err := forest.Load(state.Forest); err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:         state.Config,
		encoder:     features.FromState(state.Scaler),
		forest:      forest,
		imputeMeans: state.ImputeMeans,
		threshold:   state.Threshold,
		trained:     true,
	}, nil
}
