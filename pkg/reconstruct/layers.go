package reconstruct

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Gate blocks inside the fused LSTM weight matrices, in column order.
const (
	gateInput = iota
	gateForget
	gateCell
	gateOutput
	numGates
)

// lstm is a recurrent layer whose candidate and output activations are
// ReLU; the three gates use the logistic sigmoid.
type lstm struct {
	in, units int

	wx *mat.Dense // in × 4u
	wh *mat.Dense // u × 4u
	b  *mat.Dense // 1 × 4u
}

// lstmStep caches what backprop needs for one time step.
type lstmStep struct {
	x, hPrev, cPrev *mat.Dense
	i, f, g, o      *mat.Dense
	zg              *mat.Dense
	c, h            *mat.Dense
}

func newLSTM(in, units int, rng *rand.Rand) *lstm {
	b := mat.NewDense(1, numGates*units, nil)
	for j := 0; j < units; j++ {
		b.Set(0, gateForget*units+j, 1)
	}
	return &lstm{
		in:    in,
		units: units,
		wx:    glorot(in, numGates*units, rng),
		wh:    orthogonal(units, numGates*units, rng),
		b:     b,
	}
}

func (l *lstm) params() []*mat.Dense {
	return []*mat.Dense{l.wx, l.wh, l.b}
}

// forward runs the layer over xs (one B×in matrix per time step) and
// returns every hidden state together with the step caches.
func (l *lstm) forward(xs []*mat.Dense) ([]*mat.Dense, []lstmStep) {
	batch, _ := xs[0].Dims()
	u := l.units

	h := mat.NewDense(batch, u, nil)
	c := mat.NewDense(batch, u, nil)
	hs := make([]*mat.Dense, len(xs))
	steps := make([]lstmStep, len(xs))

	for t, x := range xs {
		z := mat.NewDense(batch, numGates*u, nil)
		z.Mul(x, l.wx)
		var zh mat.Dense
		zh.Mul(h, l.wh)
		z.Add(z, &zh)
		addRow(z, l.b)

		s := lstmStep{x: x, hPrev: h, cPrev: c}
		s.i = apply(gate(z, gateInput, u), sigmoid)
		s.f = apply(gate(z, gateForget, u), sigmoid)
		s.zg = mat.DenseCopyOf(gate(z, gateCell, u))
		s.g = apply(s.zg, relu)
		s.o = apply(gate(z, gateOutput, u), sigmoid)

		var fc, ig mat.Dense
		fc.MulElem(s.f, c)
		ig.MulElem(s.i, s.g)
		s.c = mat.NewDense(batch, u, nil)
		s.c.Add(&fc, &ig)

		s.h = mat.NewDense(batch, u, nil)
		s.h.MulElem(s.o, apply(s.c, relu))

		h, c = s.h, s.c
		hs[t] = s.h
		steps[t] = s
	}
	return hs, steps
}

// backward propagates dhs (gradient w.r.t. each output hidden state; nil
// entries mean no external gradient) through time, accumulating weight
// gradients into grads, and returns the gradient w.r.t. each input.
func (l *lstm) backward(steps []lstmStep, dhs []*mat.Dense, grads []*mat.Dense) []*mat.Dense {
	batch, _ := steps[0].x.Dims()
	u := l.units

	dhNext := mat.NewDense(batch, u, nil)
	dcNext := mat.NewDense(batch, u, nil)
	dxs := make([]*mat.Dense, len(steps))

	for t := len(steps) - 1; t >= 0; t-- {
		s := steps[t]

		dh := mat.DenseCopyOf(dhNext)
		if dhs[t] != nil {
			dh.Add(dh, dhs[t])
		}

		dzo := mulElem(dh, apply(s.c, relu))
		dzo.MulElem(dzo, apply(s.o, sigmoidGrad))

		dc := mulElem(dh, s.o)
		dc.MulElem(dc, apply(s.c, reluGrad))
		dc.Add(dc, dcNext)

		dzi := mulElem(dc, s.g)
		dzi.MulElem(dzi, apply(s.i, sigmoidGrad))

		dzg := mulElem(dc, s.i)
		dzg.MulElem(dzg, apply(s.zg, reluGrad))

		dzf := mulElem(dc, s.cPrev)
		dzf.MulElem(dzf, apply(s.f, sigmoidGrad))

		dcNext = mulElem(dc, s.f)

		dz := mat.NewDense(batch, numGates*u, nil)
		setGate(dz, gateInput, u, dzi)
		setGate(dz, gateForget, u, dzf)
		setGate(dz, gateCell, u, dzg)
		setGate(dz, gateOutput, u, dzo)

		accumulate(grads[0], s.x.T(), dz)
		accumulate(grads[1], s.hPrev.T(), dz)
		addColSums(grads[2], dz)

		dx := mat.NewDense(batch, l.in, nil)
		dx.Mul(dz, l.wx.T())
		dxs[t] = dx

		dhp := mat.NewDense(batch, u, nil)
		dhp.Mul(dz, l.wh.T())
		dhNext = dhp
	}
	return dxs
}

// dense is a time-distributed fully connected output layer.
type dense struct {
	w *mat.Dense // in × out
	b *mat.Dense // 1 × out
}

func newDense(in, out int, rng *rand.Rand) *dense {
	return &dense{
		w: glorot(in, out, rng),
		b: mat.NewDense(1, out, nil),
	}
}

func (d *dense) params() []*mat.Dense {
	return []*mat.Dense{d.w, d.b}
}

func (d *dense) forward(hs []*mat.Dense) []*mat.Dense {
	ys := make([]*mat.Dense, len(hs))
	_, out := d.w.Dims()
	for t, h := range hs {
		batch, _ := h.Dims()
		y := mat.NewDense(batch, out, nil)
		y.Mul(h, d.w)
		addRow(y, d.b)
		ys[t] = y
	}
	return ys
}

func (d *dense) backward(hs, dys []*mat.Dense, grads []*mat.Dense) []*mat.Dense {
	dhs := make([]*mat.Dense, len(hs))
	in, _ := d.w.Dims()
	for t, dy := range dys {
		accumulate(grads[0], hs[t].T(), dy)
		addColSums(grads[1], dy)

		batch, _ := dy.Dims()
		dh := mat.NewDense(batch, in, nil)
		dh.Mul(dy, d.w.T())
		dhs[t] = dh
	}
	return dhs
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

// sigmoidGrad takes the sigmoid output, not its input.
func sigmoidGrad(s float64) float64 { return s * (1 - s) }

func relu(v float64) float64 { return math.Max(0, v) }

func reluGrad(v float64) float64 {
	if v > 0 {
		return 1
	}
	return 0
}

func apply(m mat.Matrix, fn func(float64) float64) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return fn(v) }, m)
	return &out
}

func mulElem(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.MulElem(a, b)
	return &out
}

func gate(z *mat.Dense, k, units int) mat.Matrix {
	rows, _ := z.Dims()
	return z.Slice(0, rows, k*units, (k+1)*units)
}

func setGate(z *mat.Dense, k, units int, src *mat.Dense) {
	rows, _ := z.Dims()
	z.Slice(0, rows, k*units, (k+1)*units).(*mat.Dense).Copy(src)
}

// addRow adds the 1×n row vector to every row of m.
func addRow(m, row *mat.Dense) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)+row.At(0, j))
		}
	}
}

func addColSums(dst *mat.Dense, m *mat.Dense) {
	rows, cols := m.Dims()
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += m.At(i, j)
		}
		dst.Set(0, j, dst.At(0, j)+sum)
	}
}

// accumulate adds a·b into dst.
func accumulate(dst *mat.Dense, a, b mat.Matrix) {
	var prod mat.Dense
	prod.Mul(a, b)
	dst.Add(dst, &prod)
}

func glorot(rows, cols int, rng *rand.Rand) *mat.Dense {
	limit := math.Sqrt(6 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(rows, cols, data)
}

// orthogonal returns a rows × cols matrix with orthonormal rows (cols ≥ rows),
// taken from the Q factor of a Gaussian matrix.
func orthogonal(rows, cols int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, cols*rows)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	a := mat.NewDense(cols, rows, data)

	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q)

	out := mat.NewDense(rows, cols, nil)
	out.Copy(q.Slice(0, cols, 0, rows).T())
	return out
}
