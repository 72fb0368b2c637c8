package iforest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examlens/examlens/pkg/detectors"
)

func TestNewIsolationForest(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
	}{
		{
			name:       "default configuration",
			opts:       nil,
			wantNTrees: 100,
		},
		{
			name:       "custom trees",
			opts:       []Option{WithTrees(50)},
			wantNTrees: 50,
		},
		{
			name:       "multiple options",
			opts:       []Option{WithTrees(200), WithSampleSize(128), WithSeed(123)},
			wantNTrees: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		data    [][]float64
		wantErr bool
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: true,
		},
		{
			name:    "empty feature matrix",
			data:    [][]float64{{}, {}},
			wantErr: true,
		},
		{
			name:    "single sample leaves no room to split",
			data:    [][]float64{{1.0, 2.0, 3.0}},
			wantErr: true,
		},
		{
			name:    "zero trees",
			opts:    []Option{WithTrees(0)},
			data:    generateTestData(100, 5),
			wantErr: true,
		},
		{
			name:    "subsample size below two",
			opts:    []Option{WithSampleSize(1)},
			data:    generateTestData(100, 5),
			wantErr: true,
		},
		{
			name: "normal data",
			data: generateTestData(100, 5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithTrees(10), WithSeed(42)}, tt.opts...)
			f := New(opts...)
			err := f.Fit(tt.data)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.True(t, f.trained)
				assert.Len(t, f.trees, f.nTrees)
			}
		})
	}
}

func TestFitConfigurationError(t *testing.T) {
	f := New(WithTrees(0))
	err := f.Fit(generateTestData(10, 2))

	var cfgErr *detectors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestPredict(t *testing.T) {
	trainData := generateTestData(500, 5)
	f := New(WithTrees(50), WithSampleSize(100), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	t.Run("predict on normal data", func(t *testing.T) {
		testData := generateTestData(100, 5)
		scores, err := f.Predict(testData)

		require.NoError(t, err)
		assert.Len(t, scores, len(testData))

		// All scores should be in (0, 1]
		for _, score := range scores {
			assert.Greater(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})

	t.Run("predict on outliers", func(t *testing.T) {
		outliers := [][]float64{
			{1000, 1000, 1000, 1000, 1000},
			{-500, -500, -500, -500, -500},
		}
		scores, err := f.Predict(outliers)

		require.NoError(t, err)
		for _, score := range scores {
			assert.Greater(t, score, 0.5, "outliers should have high scores")
		}
	})

	t.Run("predict before fit", func(t *testing.T) {
		untrained := New()
		_, err := untrained.Predict(trainData)
		assert.Error(t, err)
	})

	t.Run("feature count mismatch", func(t *testing.T) {
		_, err := f.Predict([][]float64{{1.0, 2.0}})
		assert.Error(t, err)
	})
}

func TestPredictDeterminism(t *testing.T) {
	data := generateTestData(400, 4)

	first := New(WithTrees(60), WithSampleSize(128), WithSeed(7))
	second := New(WithTrees(60), WithSampleSize(128), WithSeed(7))
	require.NoError(t, first.Fit(data))
	require.NoError(t, second.Fit(data))

	firstScores, err := first.Predict(data)
	require.NoError(t, err)
	secondScores, err := second.Predict(data)
	require.NoError(t, err)

	// Identical seed and input must give identical trees and scores,
	// regardless of how the parallel build was scheduled.
	assert.Equal(t, firstScores, secondScores)
}

func TestPredictIdempotent(t *testing.T) {
	data := generateTestData(300, 3)
	f := New(WithTrees(30), WithSeed(42))
	require.NoError(t, f.Fit(data))

	first, err := f.Predict(data)
	require.NoError(t, err)
	second, err := f.Predict(data)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestClusterVersusOutlier(t *testing.T) {
	// A dense cluster of duplicated points plus one point planted far away:
	// the planted outlier must isolate faster than any cluster member.
	var data [][]float64
	for i := 0; i < 200; i++ {
		data = append(data, []float64{1.0, 1.0, 1.0})
	}
	outlier := []float64{250, -250, 250}
	data = append(data, outlier)
	for i := 0; i < 50; i++ {
		data = append(data, generateTestData(1, 3)...)
	}

	f := New(WithTrees(50), WithSeed(42))
	require.NoError(t, f.Fit(data))

	clusterScore, err := f.PredictOne([]float64{1.0, 1.0, 1.0})
	require.NoError(t, err)
	outlierScore, err := f.PredictOne(outlier)
	require.NoError(t, err)

	assert.Less(t, clusterScore, outlierScore)
}

func TestPredictOne(t *testing.T) {
	trainData := generateTestData(200, 3)
	f := New(WithTrees(20), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	score, err := f.PredictOne([]float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestEffectiveSampleSize(t *testing.T) {
	// Fewer samples than the configured subsample size: the effective size
	// and the normalization constant follow the data.
	data := generateTestData(40, 3)
	f := New(WithTrees(10), WithSampleSize(256), WithSeed(42))
	require.NoError(t, f.Fit(data))

	assert.Equal(t, 40, f.SampleSize())
	assert.InDelta(t, averagePathLength(40), f.RefPathLength(), 1e-12)
}

func TestAveragePathLength(t *testing.T) {
	assert.Zero(t, averagePathLength(0))
	assert.Zero(t, averagePathLength(1))
	assert.Greater(t, averagePathLength(3), averagePathLength(2))
	assert.Greater(t, averagePathLength(256), averagePathLength(3))
}

func TestSaveLoad(t *testing.T) {
	trainData := generateTestData(200, 4)
	original := New(WithTrees(30), WithSeed(42))
	require.NoError(t, original.Fit(trainData))

	testData := generateTestData(50, 4)
	originalScores, err := original.Predict(testData)
	require.NoError(t, err)

	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	loaded := New()
	err = loaded.Load(data)
	require.NoError(t, err)

	// Scoring must reuse the persisted trees, not rebuild them.
	loadedScores, err := loaded.Predict(testData)
	require.NoError(t, err)
	assert.Equal(t, originalScores, loadedScores)
}

func TestSaveBeforeFit(t *testing.T) {
	_, err := New().Save()
	assert.Error(t, err)
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(10000, 10)
	f := New(WithTrees(100), WithSampleSize(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(data)
	}
}

func BenchmarkPredict(b *testing.B) {
	trainData := generateTestData(5000, 10)
	testData := generateTestData(1000, 10)

	f := New(WithTrees(100), WithSampleSize(256))
	f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Predict(testData)
	}
}

func BenchmarkPredictOne(b *testing.B) {
	trainData := generateTestData(5000, 10)
	sample := make([]float64, 10)
	for i := range sample {
		sample[i] = rand.Float64()
	}

	f := New(WithTrees(100), WithSampleSize(256))
	f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.PredictOne(sample)
	}
}

func generateTestData(n, features int) [][]float64 {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}
