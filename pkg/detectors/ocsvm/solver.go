package ocsvm

import (
	"math"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "ocsvm")

// kernel computes RBF Gram rows on demand and keeps up to limit of them.
type kernel struct {
	data  [][]float64
	gamma float64
	rows  map[int][]float64
	limit int
}

func (k *kernel) row(i int) []float64 {
	if r, ok := k.rows[i]; ok {
		return r
	}
	if len(k.rows) >= k.limit {
		clear(k.rows)
	}
	r := make([]float64, len(k.data))
	for j, x := range k.data {
		r[j] = rbf(k.data[i], x, k.gamma)
	}
	k.rows[i] = r
	return r
}

// solve minimizes ½αᵀQα subject to 0 ≤ αᵢ ≤ 1 and Σα = νl, selecting
// working pairs by maximal violation with second-order gain. It returns
// α and the offset ρ.
func solve(k *kernel, nu, eps float64, maxIter int) ([]float64, float64) {
	const upper = 1.0
	l := len(k.data)

	alpha := make([]float64, l)
	n := int(nu * float64(l))
	for i := 0; i < n && i < l; i++ {
		alpha[i] = upper
	}
	if n < l {
		alpha[n] = nu*float64(l) - float64(n)
	}

	// G = Qα; the linear term is zero for the one-class problem.
	grad := make([]float64, l)
	for i, a := range alpha {
		if a == 0 {
			continue
		}
		qi := k.row(i)
		for j := range grad {
			grad[j] += a * qi[j]
		}
	}

	iter := 0
	for ; iter < maxIter; iter++ {
		i, j, ok := selectWorkingSet(k, alpha, grad, eps, upper)
		if !ok {
			break
		}

		qi := k.row(i)
		qj := k.row(j)
		oldI, oldJ := alpha[i], alpha[j]

		quad := 2 - 2*qi[j]
		if quad <= 0 {
			quad = tau
		}
		delta := (grad[i] - grad[j]) / quad
		sum := alpha[i] + alpha[j]
		alpha[i] -= delta
		alpha[j] += delta

		if sum > upper {
			if alpha[i] > upper {
				alpha[i] = upper
				alpha[j] = sum - upper
			}
		} else if alpha[j] < 0 {
			alpha[j] = 0
			alpha[i] = sum
		}
		if sum > upper {
			if alpha[j] > upper {
				alpha[j] = upper
				alpha[i] = sum - upper
			}
		} else if alpha[i] < 0 {
			alpha[i] = 0
			alpha[j] = sum
		}

		dI, dJ := alpha[i]-oldI, alpha[j]-oldJ
		for t := range grad {
			grad[t] += qi[t]*dI + qj[t]*dJ
		}
	}
	if iter == maxIter {
		log.Warnf("reached max iterations (%d) before convergence", maxIter)
	}

	return alpha, offset(alpha, grad, upper)
}

func selectWorkingSet(k *kernel, alpha, grad []float64, eps, upper float64) (int, int, bool) {
	gmax := math.Inf(-1)
	i := -1
	for t, a := range alpha {
		if a < upper && -grad[t] >= gmax {
			gmax = -grad[t]
			i = t
		}
	}
	if i == -1 {
		return 0, 0, false
	}

	qi := k.row(i)
	gmax2 := math.Inf(-1)
	j := -1
	objMin := math.Inf(1)
	for t, a := range alpha {
		if a <= 0 {
			continue
		}
		gradDiff := gmax + grad[t]
		if grad[t] >= gmax2 {
			gmax2 = grad[t]
		}
		if gradDiff > 0 {
			quad := 2 - 2*qi[t]
			if quad <= 0 {
				quad = tau
			}
			obj := -(gradDiff * gradDiff) / quad
			if obj <= objMin {
				j = t
				objMin = obj
			}
		}
	}

	if gmax+gmax2 < eps || j == -1 {
		return 0, 0, false
	}
	return i, j, true
}

// offset averages the gradient over free variables, or takes the midpoint
// of the feasible interval when none are free.
func offset(alpha, grad []float64, upper float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	var sumFree float64
	nFree := 0
	for i, a := range alpha {
		switch {
		case a >= upper:
			lb = math.Max(lb, grad[i])
		case a <= 0:
			ub = math.Min(ub, grad[i])
		default:
			nFree++
			sumFree += grad[i]
		}
	}
	if nFree > 0 {
		return sumFree / float64(nFree)
	}
	return (ub + lb) / 2
}
