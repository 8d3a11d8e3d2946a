package reconstruct

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/liftguard/pkg/preprocess"
	"github.com/hed1ad/liftguard/pkg/sensor"
	"github.com/hed1ad/liftguard/pkg/stats"
)

func TestThresholdIsBatchRelative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	errs := make([]float64, 200)
	for i := range errs {
		errs[i] = rng.ExpFloat64()
	}

	threshold := Threshold(errs, DefaultPercentile)
	assert.InDelta(t, stats.Percentile(errs, 95), threshold, 1e-12)

	below := 0
	for _, e := range errs {
		if e < threshold {
			below++
		}
	}
	frac := float64(below) / float64(len(errs))
	assert.GreaterOrEqual(t, frac, 0.90)
	assert.LessOrEqual(t, frac, 0.99)

	flagged := 0
	for _, f := range Flags(errs, threshold) {
		if f {
			flagged++
		}
	}
	assert.InDelta(t, 10, flagged, 1)

	// Same values scaled up in a different batch produce a different cutoff.
	scaled := make([]float64, len(errs))
	for i, e := range errs {
		scaled[i] = e * 10
	}
	assert.NotEqual(t, threshold, Threshold(scaled, DefaultPercentile))
}

func TestFitReportsProgress(t *testing.T) {
	m := New(WithUnits(8, 4), WithSeed(1))
	windows := sineWindows(60, preprocess.DefaultTimesteps)

	progress := make(chan Progress, 3)
	require.NoError(t, m.Fit(context.Background(), windows, 3, progress))
	close(progress)

	var epochs []int
	for p := range progress {
		epochs = append(epochs, p.Epoch)
		assert.False(t, math.IsNaN(p.Loss))
		assert.Greater(t, p.Loss, 0.0)
		assert.Greater(t, p.ValLoss, 0.0)
	}
	assert.Equal(t, []int{1, 2, 3}, epochs)
}

func TestFitReducesLoss(t *testing.T) {
	m := New(WithUnits(8, 4), WithLearningRate(0.01), WithSeed(3))
	windows := sineWindows(80, preprocess.DefaultTimesteps)

	progress := make(chan Progress, 25)
	require.NoError(t, m.Fit(context.Background(), windows, 25, progress))
	close(progress)

	var losses []float64
	for p := range progress {
		losses = append(losses, p.Loss)
	}
	require.Len(t, losses, 25)
	assert.Less(t, losses[len(losses)-1], losses[0])
}

func TestFitCancelled(t *testing.T) {
	m := New(WithUnits(4, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Fit(ctx, sineWindows(40, preprocess.DefaultTimesteps), 5, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitNothingToTrain(t *testing.T) {
	m := New(WithUnits(4, 2))
	assert.NoError(t, m.Fit(context.Background(), nil, 5, nil))
}

func TestErrors(t *testing.T) {
	m := New(WithUnits(8, 4))
	windows := sineWindows(300, preprocess.DefaultTimesteps)

	errs, err := m.Errors(windows)
	require.NoError(t, err)
	require.Len(t, errs, len(windows))
	for _, e := range errs {
		assert.GreaterOrEqual(t, e, 0.0)
	}

	recon, err := m.Reconstruct(windows[:3])
	require.NoError(t, err)
	require.Len(t, recon, 3)

	var sum float64
	for ti, row := range recon[0] {
		for j, v := range row {
			d := v - windows[0][ti][j]
			sum += d * d
		}
	}
	assert.InDelta(t, errs[0], sum/float64(preprocess.DefaultTimesteps*sensor.NumFeatures), 1e-9)
}

func TestErrorsRejectsMalformedWindow(t *testing.T) {
	m := New(WithUnits(4, 2))
	_, err := m.Errors([]preprocess.Window{{{0.1, 0.2, 0.3}}})
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	base := New(WithUnits(8, 4), WithLearningRate(0.01))
	windows := sineWindows(40, preprocess.DefaultTimesteps)

	before, err := base.Errors(windows)
	require.NoError(t, err)

	clone := base.Clone()
	require.NoError(t, clone.Fit(context.Background(), windows, 3, nil))

	after, err := base.Errors(windows)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	trained, err := clone.Errors(windows)
	require.NoError(t, err)
	assert.NotEqual(t, before, trained)
}

func TestSaveLoad(t *testing.T) {
	original := New(WithUnits(8, 4), WithSeed(11))
	windows := sineWindows(30, preprocess.DefaultTimesteps)
	require.NoError(t, original.Fit(context.Background(), windows, 2, nil))

	path := filepath.Join(t.TempDir(), "weights.gob")
	require.NoError(t, original.SaveFile(path))

	loaded := New(WithUnits(8, 4), WithSeed(99))
	require.NoError(t, loaded.LoadFile(path))

	want, err := original.Errors(windows)
	require.NoError(t, err)
	got, err := loaded.Errors(windows)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		err := New().LoadFile(filepath.Join(t.TempDir(), "absent.gob"))
		assert.ErrorIs(t, err, ErrModelUnavailable)
	})

	t.Run("no path", func(t *testing.T) {
		assert.ErrorIs(t, New().LoadFile(""), ErrModelUnavailable)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		data, err := New(WithUnits(8, 4)).Save()
		require.NoError(t, err)
		assert.Error(t, New(WithUnits(16, 4)).Load(data))
	})

	t.Run("garbage", func(t *testing.T) {
		assert.Error(t, New().Load([]byte("not gob")))
	})
}

func TestGradients(t *testing.T) {
	m := New(WithTimesteps(4), WithUnits(3, 2), WithSeed(5))
	windows := sineWindows(6, 4)[:2]
	xs := m.stack(windows)

	grads := m.backward(m.forward(xs))
	params := m.params()

	const eps = 1e-6
	for k, p := range params {
		data := p.RawMatrix().Data
		for _, idx := range []int{0, len(data) / 2, len(data) - 1} {
			orig := data[idx]
			data[idx] = orig + eps
			plus := m.forward(xs).loss()
			data[idx] = orig - eps
			minus := m.forward(xs).loss()
			data[idx] = orig

			numeric := (plus - minus) / (2 * eps)
			analytic := grads[k].RawMatrix().Data[idx]
			assert.InDelta(t, numeric, analytic, 1e-6+1e-3*math.Abs(numeric), "param %d index %d", k, idx)
		}
	}
}

// sineWindows builds windows from a smooth periodic three-feature signal in [0,1].
func sineWindows(n, t int) []preprocess.Window {
	seq := make([]sensor.NormalizedSample, n+t)
	for i := range seq {
		x := float64(i) / 5
		seq[i] = sensor.NormalizedSample{
			LeftFootPressure:  0.5 + 0.4*math.Sin(x),
			RightFootPressure: 0.5 + 0.4*math.Cos(x),
			CoreStability:     0.5 + 0.2*math.Sin(2*x),
		}
	}
	windows, err := preprocess.Windows(seq, t)
	if err != nil {
		panic(err)
	}
	return windows
}
