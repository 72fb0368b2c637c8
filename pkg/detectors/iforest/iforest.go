// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/examlens/examlens/pkg/detectors"
)

var _ detectors.Detector = (*IsolationForest)(nil)

// eulerMascheroni is used in the harmonic-number approximation of c(m).
const eulerMascheroni = 0.5772156649

// IsolationForest implements unsupervised anomaly detection using isolation
// trees. Points that are "few and different" are separated from the rest of
// the population in few random axis-aligned splits and therefore sit close to
// the root of every tree.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees     int
	sampleSize int
	rng        *rand.Rand

	// Trained model
	trees     []*iTree
	nFeatures int
	psi       int // effective subsample size, min(n, sampleSize)
	maxDepth  int
	refPath   float64 // c(psi), the score normalization constant
	trained   bool
}

// iTree is a single isolation tree, immutable after construction.
type iTree struct {
	Root *node
}

// node is a node in an isolation tree. Fields are exported for gob.
type node struct {
	// Split parameters (for internal nodes)
	SplitFeature int
	SplitValue   float64

	// Children
	Left  *node
	Right *node

	// Size of the row set that terminated here, for the size-based
	// path-length credit on depth-limited and degenerate leaves.
	Size int
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithSeed sets the random seed for reproducible subsampling and splits.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:     100,
		sampleSize: 256,
		rng:        rand.New(rand.NewSource(42)),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit trains the forest on the provided feature matrix. Trees are built in
// parallel; each tree draws its subsample and splits from an RNG seeded
// deterministically from the forest seed, so two runs with the same seed and
// input produce identical trees regardless of scheduling.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}
	nSamples := len(data)
	nFeatures := len(data[0])
	if nFeatures == 0 {
		return errors.New("empty feature matrix")
	}
	if f.nTrees < 1 {
		return &detectors.ConfigurationError{
			Reason: fmt.Sprintf("tree count %d, need at least 1", f.nTrees),
		}
	}

	psi := f.sampleSize
	if psi > nSamples {
		psi = nSamples
	}
	if psi < 2 {
		return &detectors.ConfigurationError{
			Reason: fmt.Sprintf("subsample size %d, need at least 2", psi),
		}
	}

	// Depth limit follows the effective subsample size.
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	// Draw per-tree seeds up front so tree construction stays deterministic
	// under parallel build.
	seeds := make([]int64, f.nTrees)
	for i := range seeds {
		seeds[i] = f.rng.Int63()
	}

	trees := make([]*iTree, f.nTrees)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < f.nTrees; i++ {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))

			// Subsample without replacement.
			indices := rng.Perm(nSamples)[:psi]
			sample := make([][]float64, psi)
			for j, idx := range indices {
				sample[j] = data[idx]
			}

			trees[i] = &iTree{Root: buildNode(rng, sample, nFeatures, 0, maxDepth)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.trees = trees
	f.nFeatures = nFeatures
	f.psi = psi
	f.maxDepth = maxDepth
	f.refPath = averagePathLength(float64(psi))
	f.trained = true

	return nil
}

// buildNode recursively partitions the row set: a uniformly random feature
// and a uniform split strictly between its min and max over the set; rows
// below the split go left. A branch stops on isolation, the depth limit, or a
// degenerate set where every value of the chosen feature is identical.
func buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, maxDepth int) *node {
	n := len(data)

	if depth >= maxDepth || n <= 1 {
		return &node{Size: n}
	}

	feature := rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &node{Size: n}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         buildNode(rng, leftData, nFeatures, depth+1, maxDepth),
		Right:        buildNode(rng, rightData, nFeatures, depth+1, maxDepth),
	}
}

// Predict returns anomaly scores for the given samples. Points are scored in
// parallel; each point's path-length computation is independent of the others.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, errors.New("model not trained")
	}

	scores := make([]float64, len(data))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range data {
		i := i
		g.Go(func() error {
			score, err := f.predictOne(data[i])
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return scores, nil
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, errors.New("model not trained")
	}

	return f.predictOne(sample)
}

func (f *IsolationForest) predictOne(sample []float64) (float64, error) {
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("sample has %d features, model expects %d", len(sample), f.nFeatures)
	}

	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.Root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	// Anomaly score: 2^(-E[h(x)] / c(psi)). Higher means more anomalous.
	return math.Pow(2, -avgPath/f.refPath), nil
}

// pathLength counts the edges from the root to the leaf containing the
// sample, crediting non-trivial leaves with the expected depth of a balanced
// search over their remaining size.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(currentDepth) + averagePathLength(float64(n.Size))
	}

	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, currentDepth+1)
	}
	return pathLength(sample, n.Right, currentDepth+1)
}

// averagePathLength returns c(m), the average path length of an unsuccessful
// BST search over m items: 2*H(m-1) - 2*(m-1)/m, with the harmonic number
// approximated as H(i) = ln(i) + the Euler-Mascheroni constant.
func averagePathLength(m float64) float64 {
	if m <= 1 {
		return 0
	}
	return 2*(math.Log(m-1)+eulerMascheroni) - 2*(m-1)/m
}

// RefPathLength returns c(psi) for the trained forest, the normalization
// constant that must be reused when scoring later batches.
func (f *IsolationForest) RefPathLength() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.refPath
}

// SampleSize returns the effective subsample size used during training.
func (f *IsolationForest) SampleSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.psi
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, errors.New("model not trained")
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(f.nTrees); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.sampleSize); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.nFeatures); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.psi); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.refPath); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.trees); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := bytes.NewBuffer(data)
	dec := gob.NewDecoder(buf)

	if err := dec.Decode(&f.nTrees); err != nil {
		return err
	}
	if err := dec.Decode(&f.sampleSize); err != nil {
		return err
	}
	if err := dec.Decode(&f.nFeatures); err != nil {
		return err
	}
	if err := dec.Decode(&f.psi); err != nil {
		return err
	}
	if err := dec.Decode(&f.refPath); err != nil {
		return err
	}
	if err := dec.Decode(&f.trees); err != nil {
		return err
	}

	f.maxDepth = int(math.Ceil(math.Log2(float64(f.psi))))
	f.trained = true

	return nil
}
