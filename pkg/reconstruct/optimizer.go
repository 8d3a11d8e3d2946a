package reconstruct

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// adam keeps first and second moment estimates per parameter matrix.
type adam struct {
	lr, beta1, beta2, eps float64
	step                  int
	m, v                  []*mat.Dense
}

func newAdam(params []*mat.Dense, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, p := range params {
		r, c := p.Dims()
		a.m = append(a.m, mat.NewDense(r, c, nil))
		a.v = append(a.v, mat.NewDense(r, c, nil))
	}
	return a
}

func (a *adam) update(params, grads []*mat.Dense) {
	a.step++
	lrT := a.lr * math.Sqrt(1-math.Pow(a.beta2, float64(a.step))) / (1 - math.Pow(a.beta1, float64(a.step)))

	for k, p := range params {
		g := grads[k].RawMatrix().Data
		m := a.m[k].RawMatrix().Data
		v := a.v[k].RawMatrix().Data
		w := p.RawMatrix().Data
		for i := range w {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			w[i] -= lrT * m[i] / (math.Sqrt(v[i]) + a.eps)
		}
	}
}

// clipGlobalNorm rescales grads in place so their joint L2 norm is at most
// maxNorm. A non-positive maxNorm disables clipping.
func clipGlobalNorm(grads []*mat.Dense, maxNorm float64) float64 {
	var sq float64
	for _, g := range grads {
		n := floats.Norm(g.RawMatrix().Data, 2)
		sq += n * n
	}
	norm := math.Sqrt(sq)
	if maxNorm <= 0 || norm <= maxNorm || norm == 0 {
		return norm
	}
	scale := maxNorm / norm
	for _, g := range grads {
		floats.Scale(scale, g.RawMatrix().Data)
	}
	return norm
}
