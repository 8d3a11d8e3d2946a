package iforest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/liftguard/pkg/detectors"
	"github.com/hed1ad/liftguard/pkg/stats"
)

func TestNewIsolationForest(t *testing.T) {
	tests := []struct {
		name              string
		opts              []Option
		wantNTrees        int
		wantContamination float64
	}{
		{
			name:              "default configuration",
			opts:              nil,
			wantNTrees:        100,
			wantContamination: 0.01,
		},
		{
			name:              "custom trees",
			opts:              []Option{WithTrees(50)},
			wantNTrees:        50,
			wantContamination: 0.01,
		},
		{
			name:              "multiple options",
			opts:              []Option{WithTrees(200), WithContamination(0.05), WithSeed(123)},
			wantNTrees:        200,
			wantContamination: 0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
			assert.Equal(t, tt.wantContamination, f.contamination)
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		wantErr error
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: detectors.ErrEmptyData,
		},
		{
			name: "single sample",
			data: [][]float64{{1.0, 2.0, 3.0}},
		},
		{
			name: "normal data",
			data: generateTestData(100, 3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(10), WithSeed(42))
			err := f.Fit(tt.data)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.True(t, f.trained)
				assert.Len(t, f.trees, f.nTrees)
			}
		})
	}
}

func TestPredict(t *testing.T) {
	// Train on normal data
	trainData := generateTestData(500, 3)
	f := New(WithTrees(50), WithSampleSize(100), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	t.Run("predict on normal data", func(t *testing.T) {
		testData := generateTestData(100, 3)
		scores, err := f.Predict(testData)

		require.NoError(t, err)
		assert.Len(t, scores, len(testData))

		// All scores should be in [0, 1]
		for _, score := range scores {
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})

	t.Run("predict on anomalies", func(t *testing.T) {
		// Anomalous data: very different from training
		anomalies := [][]float64{
			{1000, 1000, 1000},
			{-500, -500, -500},
		}
		scores, err := f.Predict(anomalies)

		require.NoError(t, err)
		// Anomalies should have higher scores
		for _, score := range scores {
			assert.Greater(t, score, 0.4, "anomalies should have high scores")
		}
	})

	t.Run("predict before fit", func(t *testing.T) {
		untrained := New()
		_, err := untrained.Predict(trainData)
		assert.ErrorIs(t, err, detectors.ErrNotTrained)
	})
}

func TestFlag(t *testing.T) {
	data := generateTestData(500, 3)
	outliers := [][]float64{
		{12, 12, 12},
		{-12, 12, -12},
		{12, -12, 12},
		{-12, -12, -12},
		{15, 0, 15},
	}
	data = append(data, outliers...)

	flags, err := detectors.FitFlag(Factory(WithSeed(42)), data)
	require.NoError(t, err)
	require.Len(t, flags, len(data))

	flagged := 0
	for _, f := range flags {
		if f {
			flagged++
		}
	}
	for i := range outliers {
		assert.True(t, flags[500+i], "outlier %d should be flagged", i)
	}
	assert.LessOrEqual(t, flagged, 10)
}

func TestThreshold(t *testing.T) {
	data := generateTestData(300, 3)
	f := New(WithTrees(30), WithContamination(0.1), WithSeed(42))
	assert.Equal(t, 0.5, f.Threshold())

	require.NoError(t, f.Fit(data))
	scores, err := f.Predict(data)
	require.NoError(t, err)
	assert.Equal(t, stats.Percentile(scores, 90), f.Threshold())
}

func TestFactoryBuildsFreshDetectors(t *testing.T) {
	first := generateTestData(300, 3)
	second := append(generateTestData(300, 3), []float64{20, 20, 20})
	newForest := Factory(WithTrees(30), WithSeed(7))

	a, err := detectors.FitFlag(newForest, first)
	require.NoError(t, err)
	_, err = detectors.FitFlag(newForest, second)
	require.NoError(t, err)
	b, err := detectors.FitFlag(newForest, first)
	require.NoError(t, err)

	assert.Equal(t, a, b, "a fit on another batch must not leak into the next one")
}

var _ detectors.Flagger = (*IsolationForest)(nil)

func BenchmarkFit(b *testing.B) {
	data := generateTestData(10000, 3)
	f := New(WithTrees(100), WithSampleSize(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(data)
	}
}

func BenchmarkPredict(b *testing.B) {
	trainData := generateTestData(5000, 3)
	testData := generateTestData(1000, 3)

	f := New(WithTrees(100), WithSampleSize(256))
	f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Predict(testData)
	}
}

func generateTestData(n, features int) [][]float64 {
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rand.NormFloat64()
		}
	}
	return data
}
