// Package reconstruct implements the sequence reconstructor: an LSTM
// autoencoder trained to reproduce fixed-length windows of normalized
// samples. Large reconstruction error marks a movement pattern the model
// has not learned as normal.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/liftguard/pkg/preprocess"
	"github.com/hed1ad/liftguard/pkg/sensor"
)

var log = logrus.WithField("component", "reconstruct")

// ErrModelUnavailable is returned when no trained weights can be loaded.
var ErrModelUnavailable = errors.New("model weights unavailable")

const inferenceBatch = 256

// Progress reports one finished training epoch. Epoch is 1-based.
type Progress struct {
	Epoch   int     `json:"epoch"`
	Loss    float64 `json:"loss"`
	ValLoss float64 `json:"val_loss"`
}

// Model is a symmetric LSTM autoencoder:
// LSTM(outer) → LSTM(latent) → repeat T → LSTM(latent) → LSTM(outer) → Dense(F).
//
// Reconstruct and Errors only read the weights and may run concurrently.
// Fit mutates the weights; train a Clone when the model is shared.
type Model struct {
	timesteps       int
	features        int
	outerUnits      int
	latentUnits     int
	batchSize       int
	validationSplit float64
	learningRate    float64
	clipNorm        float64
	seed            int64

	enc1, enc2 *lstm
	dec1, dec2 *lstm
	out        *dense
}

// Option configures a Model.
type Option func(*Model)

// WithTimesteps sets the window length T.
func WithTimesteps(t int) Option {
	return func(m *Model) {
		m.timesteps = t
	}
}

// WithUnits sets the outer and latent layer widths.
func WithUnits(outer, latent int) Option {
	return func(m *Model) {
		m.outerUnits = outer
		m.latentUnits = latent
	}
}

// WithBatchSize sets the mini-batch size used by Fit.
func WithBatchSize(n int) Option {
	return func(m *Model) {
		m.batchSize = n
	}
}

// WithValidationSplit sets the trailing fraction of windows held out for val_loss.
func WithValidationSplit(f float64) Option {
	return func(m *Model) {
		m.validationSplit = f
	}
}

// WithLearningRate sets the Adam step size.
func WithLearningRate(lr float64) Option {
	return func(m *Model) {
		m.learningRate = lr
	}
}

// WithClipNorm bounds the global gradient norm; 0 disables clipping.
func WithClipNorm(n float64) Option {
	return func(m *Model) {
		m.clipNorm = n
	}
}

// WithSeed sets the seed for weight initialization and batch shuffling.
func WithSeed(seed int64) Option {
	return func(m *Model) {
		m.seed = seed
	}
}

// New creates a default-initialized (untrained) model.
func New(opts ...Option) *Model {
	m := &Model{
		timesteps:       preprocess.DefaultTimesteps,
		features:        sensor.NumFeatures,
		outerUnits:      64,
		latentUnits:     32,
		batchSize:       32,
		validationSplit: 0.1,
		learningRate:    0.001,
		clipNorm:        1.0,
		seed:            42,
	}

	for _, opt := range opts {
		opt(m)
	}

	rng := rand.New(rand.NewSource(m.seed))
	m.enc1 = newLSTM(m.features, m.outerUnits, rng)
	m.enc2 = newLSTM(m.outerUnits, m.latentUnits, rng)
	m.dec1 = newLSTM(m.latentUnits, m.latentUnits, rng)
	m.dec2 = newLSTM(m.latentUnits, m.outerUnits, rng)
	m.out = newDense(m.outerUnits, m.features, rng)

	return m
}

// Timesteps returns the window length the model expects.
func (m *Model) Timesteps() int {
	return m.timesteps
}

// Clone returns a deep copy with independent weights.
func (m *Model) Clone() *Model {
	c := *m
	c.enc1 = cloneLSTM(m.enc1)
	c.enc2 = cloneLSTM(m.enc2)
	c.dec1 = cloneLSTM(m.dec1)
	c.dec2 = cloneLSTM(m.dec2)
	c.out = &dense{w: mat.DenseCopyOf(m.out.w), b: mat.DenseCopyOf(m.out.b)}
	return &c
}

func cloneLSTM(l *lstm) *lstm {
	return &lstm{
		in:    l.in,
		units: l.units,
		wx:    mat.DenseCopyOf(l.wx),
		wh:    mat.DenseCopyOf(l.wh),
		b:     mat.DenseCopyOf(l.b),
	}
}

func (m *Model) params() []*mat.Dense {
	var ps []*mat.Dense
	ps = append(ps, m.enc1.params()...)
	ps = append(ps, m.enc2.params()...)
	ps = append(ps, m.dec1.params()...)
	ps = append(ps, m.dec2.params()...)
	ps = append(ps, m.out.params()...)
	return ps
}

// pass holds the activations of one forward pass.
type pass struct {
	xs     []*mat.Dense
	s1, s2 []lstmStep
	s3, s4 []lstmStep
	h4, ys []*mat.Dense
	batch  int
}

func (m *Model) forward(xs []*mat.Dense) *pass {
	h1, s1 := m.enc1.forward(xs)
	h2, s2 := m.enc2.forward(h1)

	latent := h2[len(h2)-1]
	repeated := make([]*mat.Dense, m.timesteps)
	for t := range repeated {
		repeated[t] = latent
	}

	h3, s3 := m.dec1.forward(repeated)
	h4, s4 := m.dec2.forward(h3)
	ys := m.out.forward(h4)

	batch, _ := xs[0].Dims()
	return &pass{xs: xs, s1: s1, s2: s2, s3: s3, s4: s4, h4: h4, ys: ys, batch: batch}
}

// loss returns the batch MSE averaged over samples, steps and features.
func (p *pass) loss() float64 {
	var sum float64
	n := 0
	for t, y := range p.ys {
		r, c := y.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				d := y.At(i, j) - p.xs[t].At(i, j)
				sum += d * d
			}
		}
		n += r * c
	}
	return sum / float64(n)
}

// backward returns gradients for every parameter, in params() order.
func (m *Model) backward(p *pass) []*mat.Dense {
	params := m.params()
	grads := make([]*mat.Dense, len(params))
	for k, w := range params {
		r, c := w.Dims()
		grads[k] = mat.NewDense(r, c, nil)
	}

	total := float64(p.batch * m.timesteps * m.features)
	dys := make([]*mat.Dense, len(p.ys))
	for t, y := range p.ys {
		d := mat.NewDense(p.batch, m.features, nil)
		d.Sub(y, p.xs[t])
		d.Scale(2/total, d)
		dys[t] = d
	}

	dh4 := m.out.backward(p.h4, dys, grads[12:14])
	dh3 := m.dec2.backward(p.s4, dh4, grads[9:12])
	drep := m.dec1.backward(p.s3, dh3, grads[6:9])

	dlatent := mat.NewDense(p.batch, m.latentUnits, nil)
	for _, d := range drep {
		dlatent.Add(dlatent, d)
	}
	dh2 := make([]*mat.Dense, m.timesteps)
	dh2[m.timesteps-1] = dlatent

	dh1 := m.enc2.backward(p.s2, dh2, grads[3:6])
	m.enc1.backward(p.s1, dh1, grads[0:3])

	return grads
}

// Fit trains the model on windows for the given number of epochs. The
// trailing validationSplit fraction of windows is held out; the rest is
// shuffled every epoch. When progress is non-nil one Progress value is
// sent per finished epoch; the caller owns and closes the channel.
func (m *Model) Fit(ctx context.Context, windows []preprocess.Window, epochs int, progress chan<- Progress) error {
	if err := m.checkWindows(windows); err != nil {
		return err
	}
	if len(windows) == 0 || epochs <= 0 {
		log.Debugf("nothing to train: %d windows, %d epochs", len(windows), epochs)
		return nil
	}

	split := int(float64(len(windows)) * (1 - m.validationSplit))
	train, val := windows[:split], windows[split:]
	if len(train) == 0 {
		train, val = windows, nil
	}

	params := m.params()
	opt := newAdam(params, m.learningRate)
	rng := rand.New(rand.NewSource(m.seed))
	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		for start := 0; start < len(order); start += m.batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+m.batchSize, len(order))
			batch := make([]preprocess.Window, 0, end-start)
			for _, idx := range order[start:end] {
				batch = append(batch, train[idx])
			}

			p := m.forward(m.stack(batch))
			lossSum += p.loss() * float64(len(batch))
			grads := m.backward(p)
			clipGlobalNorm(grads, m.clipNorm)
			opt.update(params, grads)
		}

		pr := Progress{Epoch: epoch, Loss: lossSum / float64(len(train))}
		if len(val) > 0 {
			pr.ValLoss = m.evaluate(val)
		}
		log.WithField("epoch", epoch).Debugf("loss=%.6f val_loss=%.6f", pr.Loss, pr.ValLoss)

		if progress != nil {
			select {
			case progress <- pr:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (m *Model) evaluate(windows []preprocess.Window) float64 {
	errs := m.errors(windows)
	var sum float64
	for _, e := range errs {
		sum += e
	}
	return sum / float64(len(errs))
}

// Reconstruct returns the model's reconstruction of every window.
func (m *Model) Reconstruct(windows []preprocess.Window) ([]preprocess.Window, error) {
	if err := m.checkWindows(windows); err != nil {
		return nil, err
	}
	out := make([]preprocess.Window, 0, len(windows))
	for start := 0; start < len(windows); start += inferenceBatch {
		end := min(start+inferenceBatch, len(windows))
		p := m.forward(m.stack(windows[start:end]))
		for b := 0; b < end-start; b++ {
			w := make(preprocess.Window, m.timesteps)
			for t, y := range p.ys {
				w[t] = mat.Row(nil, b, y)
			}
			out = append(out, w)
		}
	}
	return out, nil
}

// Errors returns the reconstruction MSE of every window, averaged over
// time steps and features.
func (m *Model) Errors(windows []preprocess.Window) ([]float64, error) {
	if err := m.checkWindows(windows); err != nil {
		return nil, err
	}
	return m.errors(windows), nil
}

func (m *Model) errors(windows []preprocess.Window) []float64 {
	errs := make([]float64, 0, len(windows))
	cells := float64(m.timesteps * m.features)
	for start := 0; start < len(windows); start += inferenceBatch {
		end := min(start+inferenceBatch, len(windows))
		p := m.forward(m.stack(windows[start:end]))
		for b := 0; b < end-start; b++ {
			var sum float64
			for t, y := range p.ys {
				for j := 0; j < m.features; j++ {
					d := y.At(b, j) - p.xs[t].At(b, j)
					sum += d * d
				}
			}
			errs = append(errs, sum/cells)
		}
	}
	return errs
}

// stack lays a batch of windows out as one B×F matrix per time step.
func (m *Model) stack(batch []preprocess.Window) []*mat.Dense {
	xs := make([]*mat.Dense, m.timesteps)
	for t := range xs {
		x := mat.NewDense(len(batch), m.features, nil)
		for b, w := range batch {
			x.SetRow(b, w[t])
		}
		xs[t] = x
	}
	return xs
}

func (m *Model) checkWindows(windows []preprocess.Window) error {
	for i, w := range windows {
		if len(w) != m.timesteps {
			return fmt.Errorf("window %d has %d steps, model expects %d", i, len(w), m.timesteps)
		}
		for _, row := range w {
			if len(row) != m.features {
				return fmt.Errorf("window %d has %d features, model expects %d", i, len(row), m.features)
			}
		}
	}
	return nil
}
