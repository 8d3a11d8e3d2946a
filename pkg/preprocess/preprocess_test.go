package preprocess

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/liftguard/pkg/sensor"
)

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		samples []sensor.Sample
		strict  bool
		wantErr error
	}{
		{
			name:    "empty batch",
			samples: nil,
			wantErr: sensor.ErrInsufficientData,
		},
		{
			name:    "constant feature is tolerated",
			samples: []sensor.Sample{{LeftFootPressure: 1, RightFootPressure: 2, CoreStability: 0.8}, {LeftFootPressure: 3, RightFootPressure: 4, CoreStability: 0.8}},
		},
		{
			name:    "constant feature in strict mode",
			samples: []sensor.Sample{{LeftFootPressure: 1, RightFootPressure: 2, CoreStability: 0.8}, {LeftFootPressure: 3, RightFootPressure: 4, CoreStability: 0.8}},
			strict:  true,
			wantErr: sensor.ErrDegenerateFeature,
		},
		{
			name:    "regular batch",
			samples: generateSamples(50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.samples, WithStrict(tt.strict))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTransformRange(t *testing.T) {
	samples := generateSamples(200)
	normalized, bounds, err := FitTransform(samples)
	require.NoError(t, err)
	require.Len(t, normalized, len(samples))

	for _, n := range normalized {
		for _, v := range n.Vector() {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}

	edges := bounds.Transform([]sensor.Sample{
		{LeftFootPressure: bounds.Min[0], RightFootPressure: bounds.Min[1], CoreStability: bounds.Min[2]},
		{LeftFootPressure: bounds.Max[0], RightFootPressure: bounds.Max[1], CoreStability: bounds.Max[2]},
	})
	assert.Equal(t, []float64{0, 0, 0}, edges[0].Vector())
	assert.Equal(t, []float64{1, 1, 1}, edges[1].Vector())
}

func TestTransformConstantFeature(t *testing.T) {
	samples := []sensor.Sample{{LeftFootPressure: 10, RightFootPressure: 20, CoreStability: 0.7}, {LeftFootPressure: 30, RightFootPressure: 40, CoreStability: 0.7}, {LeftFootPressure: 20, RightFootPressure: 30, CoreStability: 0.7}}
	normalized, _, err := FitTransform(samples)
	require.NoError(t, err)

	for _, n := range normalized {
		assert.Equal(t, 0.0, n.CoreStability)
	}
	assert.Equal(t, 0.5, normalized[2].LeftFootPressure)
}

func TestWindows(t *testing.T) {
	tests := []struct {
		name        string
		n           int
		wantWindows int
		wantErr     bool
	}{
		{name: "fewer than T", n: DefaultTimesteps - 1, wantErr: true},
		{name: "exactly T", n: DefaultTimesteps, wantWindows: 0},
		{name: "T plus five", n: DefaultTimesteps + 5, wantWindows: 5},
		{name: "large batch", n: 300, wantWindows: 290},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := sequence(tt.n)
			windows, err := Windows(seq, DefaultTimesteps)
			if tt.wantErr {
				assert.ErrorIs(t, err, sensor.ErrInsufficientData)
				return
			}
			require.NoError(t, err)
			require.Len(t, windows, tt.wantWindows)

			for i, w := range windows {
				require.Len(t, w, DefaultTimesteps)
				for k, row := range w {
					assert.Equal(t, seq[i+k].Vector(), row)
				}
			}

			trimmed, err := Trim(seq, DefaultTimesteps)
			require.NoError(t, err)
			assert.Len(t, trimmed, len(windows))
		})
	}
}

// sequence builds normalized samples whose first feature encodes the index.
func sequence(n int) []sensor.NormalizedSample {
	seq := make([]sensor.NormalizedSample, n)
	for i := range seq {
		seq[i] = sensor.NormalizedSample{
			LeftFootPressure:  float64(i) / float64(n+1),
			RightFootPressure: 0.5,
			CoreStability:     0.5,
		}
	}
	return seq
}

func generateSamples(n int) []sensor.Sample {
	samples := make([]sensor.Sample, n)
	for i := range samples {
		samples[i] = sensor.Sample{
			LeftFootPressure:  50 + rand.NormFloat64()*5,
			RightFootPressure: 50 + rand.NormFloat64()*5,
			CoreStability:     0.85 + rand.NormFloat64()*0.05,
		}
	}
	return samples
}
