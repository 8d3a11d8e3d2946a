// Package ocsvm implements a One-Class Support Vector Machine with a radial
// basis kernel. It learns a boundary around the bulk of the training data;
// samples falling outside it are flagged as outliers.
package ocsvm

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/liftguard/pkg/detectors"
)

const tau = 1e-12

// OneClassSVM solves the ν-one-class dual with SMO.
type OneClassSVM struct {
	mu sync.RWMutex

	// Configuration
	nu        float64
	gamma     float64
	tolerance float64
	maxIter   int
	cacheRows int

	// Trained model
	support *mat.Dense // support vectors, one per row
	coef    []float64
	rho     float64
	gammaFx float64 // gamma actually used, resolved at Fit
	trained bool
}

// Option configures a OneClassSVM.
type Option func(*OneClassSVM)

// WithNu sets ν, an upper bound on the fraction of training outliers.
func WithNu(nu float64) Option {
	return func(s *OneClassSVM) {
		s.nu = nu
	}
}

// WithGamma sets the RBF kernel width. Zero selects 1/n_features.
func WithGamma(g float64) Option {
	return func(s *OneClassSVM) {
		s.gamma = g
	}
}

// WithTolerance sets the KKT stopping tolerance.
func WithTolerance(eps float64) Option {
	return func(s *OneClassSVM) {
		s.tolerance = eps
	}
}

// WithMaxIter bounds the number of SMO iterations; 0 derives a bound from
// the sample count.
func WithMaxIter(n int) Option {
	return func(s *OneClassSVM) {
		s.maxIter = n
	}
}

// New creates a new OneClassSVM with the given options.
func New(opts ...Option) *OneClassSVM {
	s := &OneClassSVM{
		nu:        detectors.DefaultConfig().Contamination,
		tolerance: 1e-3,
		cacheRows: 2048,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Factory returns a detectors.Factory building SVMs with opts.
func Factory(opts ...Option) detectors.Factory {
	return func() detectors.Flagger {
		return New(opts...)
	}
}

// Fit learns the support vectors, their coefficients and the offset ρ.
func (s *OneClassSVM) Fit(data [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nFeatures, err := detectors.Validate(data)
	if err != nil {
		return err
	}

	gamma := s.gamma
	if gamma <= 0 {
		gamma = 1 / float64(nFeatures)
	}
	nu := math.Min(math.Max(s.nu, 1e-6), 1)

	k := &kernel{data: data, gamma: gamma, rows: make(map[int][]float64), limit: s.cacheRows}
	alpha, rho := solve(k, nu, s.tolerance, s.maxIterations(len(data)))

	var sv [][]float64
	var coef []float64
	for i, a := range alpha {
		if a > 0 {
			sv = append(sv, data[i])
			coef = append(coef, a)
		}
	}

	s.support = mat.NewDense(len(sv), nFeatures, nil)
	for i, row := range sv {
		s.support.SetRow(i, row)
	}
	s.coef = coef
	s.rho = rho
	s.gammaFx = gamma
	s.trained = true

	return nil
}

func (s *OneClassSVM) maxIterations(n int) int {
	if s.maxIter > 0 {
		return s.maxIter
	}
	return max(10000000, 100*n)
}

// Decision returns f(x) = Σ αᵢ K(svᵢ, x) − ρ for each sample; negative
// values lie outside the learned boundary.
func (s *OneClassSVM) Decision(data [][]float64) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.trained {
		return nil, detectors.ErrNotTrained
	}

	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = s.decision(x)
	}
	return out, nil
}

func (s *OneClassSVM) decision(x []float64) float64 {
	var sum float64
	for i, a := range s.coef {
		sum += a * rbf(s.support.RawRowView(i), x, s.gammaFx)
	}
	return sum - s.rho
}

// Predict returns anomaly scores, the negated decision value: positive
// outside the boundary.
func (s *OneClassSVM) Predict(data [][]float64) ([]float64, error) {
	dec, err := s.Decision(data)
	if err != nil {
		return nil, err
	}
	for i := range dec {
		dec[i] = -dec[i]
	}
	return dec, nil
}

// Flag marks samples with a negative decision value.
func (s *OneClassSVM) Flag(data [][]float64) ([]bool, error) {
	dec, err := s.Decision(data)
	if err != nil {
		return nil, err
	}
	flags := make([]bool, len(dec))
	for i, d := range dec {
		flags[i] = d < 0
	}
	return flags, nil
}

func rbf(a, b []float64, gamma float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return math.Exp(-gamma * d)
}
