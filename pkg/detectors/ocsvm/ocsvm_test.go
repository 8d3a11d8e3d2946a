package ocsvm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/liftguard/pkg/detectors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantNu  float64
		wantTol float64
	}{
		{
			name:    "default configuration",
			wantNu:  0.01,
			wantTol: 1e-3,
		},
		{
			name:    "custom nu and tolerance",
			opts:    []Option{WithNu(0.1), WithTolerance(1e-4)},
			wantNu:  0.1,
			wantTol: 1e-4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.opts...)
			assert.Equal(t, tt.wantNu, s.nu)
			assert.Equal(t, tt.wantTol, s.tolerance)
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
			data: [][]float64{{0.1, 0.2, 0.3}},
		},
		{
			name: "normal data",
			data: generateTestData(200, 3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			err := s.Fit(tt.data)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, s.trained)
			assert.Positive(t, s.support.RawMatrix().Rows)
			assert.Len(t, s.coef, s.support.RawMatrix().Rows)
		})
	}
}

func TestDualConstraint(t *testing.T) {
	data := generateTestData(300, 3)
	s := New(WithNu(0.05))
	require.NoError(t, s.Fit(data))

	var sum float64
	for _, a := range s.coef {
		assert.GreaterOrEqual(t, a, 0.0)
		assert.LessOrEqual(t, a, 1.0)
		sum += a
	}
	assert.InDelta(t, 0.05*300, sum, 1e-9)
}

func TestFlag(t *testing.T) {
	data := generateTestData(400, 3)
	outliers := [][]float64{
		{6, 6, 6},
		{-6, 6, -6},
		{6, -6, 6},
	}
	data = append(data, outliers...)

	flags, err := detectors.FitFlag(Factory(WithNu(0.02)), data)
	require.NoError(t, err)
	require.Len(t, flags, len(data))

	for i := range outliers {
		assert.True(t, flags[400+i], "outlier %d should be flagged", i)
	}

	flagged := 0
	for _, f := range flags {
		if f {
			flagged++
		}
	}
	// ν bounds the training-outlier fraction from above, with slack for
	// the discrete solution.
	assert.LessOrEqual(t, flagged, 3*len(data)/100+2)
}

func TestConstantData(t *testing.T) {
	data := make([][]float64, 50)
	for i := range data {
		data[i] = []float64{0.5, 0.5, 0.5}
	}

	flags, err := detectors.FitFlag(Factory(), data)
	require.NoError(t, err)
	for _, f := range flags {
		assert.False(t, f)
	}
}

func TestPredictBeforeFit(t *testing.T) {
	s := New()
	_, err := s.Predict([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, detectors.ErrNotTrained)

	_, err = s.Flag([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, detectors.ErrNotTrained)

	_, err = s.Decision([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, detectors.ErrNotTrained)
}

func TestPredict(t *testing.T) {
	s := New()
	require.NoError(t, s.Fit(generateTestData(200, 3)))

	scores, err := s.Predict([][]float64{{0, 0, 0}, {10, 10, 10}})
	require.NoError(t, err)
	require.Len(t, scores, 2)

	assert.Greater(t, scores[1], scores[0])
	assert.Positive(t, scores[1])
}

func TestFactoryBuildsFreshDetectors(t *testing.T) {
	first := generateTestData(200, 3)
	newSVM := Factory(WithNu(0.05))

	a, err := detectors.FitFlag(newSVM, first)
	require.NoError(t, err)
	_, err = detectors.FitFlag(newSVM, generateTestData(50, 3)[:10])
	require.NoError(t, err)
	b, err := detectors.FitFlag(newSVM, first)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

var _ detectors.Flagger = (*OneClassSVM)(nil)

func TestKernelCacheEviction(t *testing.T) {
	data := generateTestData(10, 2)
	k := &kernel{data: data, gamma: 0.5, rows: make(map[int][]float64), limit: 3}

	for i := range data {
		r := k.row(i)
		assert.InDelta(t, 1.0, r[i], 1e-12)
		assert.LessOrEqual(t, len(k.rows), 3)
	}
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(1000, 3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := New()
		s.Fit(data)
	}
}

func generateTestData(n, features int) [][]float64 {
	rng := rand.New(rand.NewSource(7))
	data := make([][]float64, n)
	for i := range data {
		data[i] = make([]float64, features)
		for j := range data[i] {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}
