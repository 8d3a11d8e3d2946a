// Package sensor defines the fixed-shape records produced by the lifting
// session sensors and the errors shared by every pipeline stage.
package sensor

import (
	"errors"
	"fmt"
	"math"
)

// Feature column names, in vector order.
const (
	LeftFootPressure  = "left_foot_pressure"
	RightFootPressure = "right_foot_pressure"
	CoreStability     = "core_stability"
)

// NumFeatures is the width of every feature vector.
const NumFeatures = 3

var (
	// ErrInsufficientData is returned when fewer samples remain than a stage needs.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDegenerateFeature marks a feature whose fitted range is zero.
	ErrDegenerateFeature = errors.New("degenerate feature")
)

// FeatureNames returns the feature columns in vector order.
func FeatureNames() []string {
	return []string{LeftFootPressure, RightFootPressure, CoreStability}
}

// Sample is one raw reading per time tick.
type Sample struct {
	LeftFootPressure  float64 `json:"left_foot_pressure"`
	RightFootPressure float64 `json:"right_foot_pressure"`
	CoreStability     float64 `json:"core_stability"`
}

// NormalizedSample is a Sample mapped into [0,1] with batch-fitted bounds.
type NormalizedSample struct {
	LeftFootPressure  float64 `json:"left_foot_pressure"`
	RightFootPressure float64 `json:"right_foot_pressure"`
	CoreStability     float64 `json:"core_stability"`
}

// Vector returns the sample as a feature vector.
func (s Sample) Vector() []float64 {
	return []float64{s.LeftFootPressure, s.RightFootPressure, s.CoreStability}
}

// Complete reports whether every field holds a finite value.
func (s Sample) Complete() bool {
	for _, v := range s.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Vector returns the normalized sample as a feature vector.
func (s NormalizedSample) Vector() []float64 {
	return []float64{s.LeftFootPressure, s.RightFootPressure, s.CoreStability}
}

// NormalizedFromVector builds a NormalizedSample from a feature vector.
func NormalizedFromVector(v []float64) NormalizedSample {
	return NormalizedSample{
		LeftFootPressure:  v[0],
		RightFootPressure: v[1],
		CoreStability:     v[2],
	}
}

// DropIncomplete removes samples with missing (NaN or infinite) values.
// The returned slice defines the ordinal index space used by all stages.
func DropIncomplete(samples []Sample) []Sample {
	clean := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Complete() {
			clean = append(clean, s)
		}
	}
	return clean
}

// Matrix converts normalized samples into row-major feature vectors.
func Matrix(samples []NormalizedSample) [][]float64 {
	rows := make([][]float64, len(samples))
	for i, s := range samples {
		rows[i] = s.Vector()
	}
	return rows
}

// DegenerateFeatureError reports a zero-variance feature seen while fitting.
type DegenerateFeatureError struct {
	Feature string
	Value   float64
}

func (e *DegenerateFeatureError) Error() string {
	return fmt.Sprintf("feature %s has zero variance (constant %g)", e.Feature, e.Value)
}

// Is lets errors.Is match ErrDegenerateFeature.
func (e *DegenerateFeatureError) Is(target error) bool {
	return target == ErrDegenerateFeature
}

// InsufficientData wraps ErrInsufficientData with the observed and required counts.
func InsufficientData(have, need int) error {
	return fmt.Errorf("%w: have %d samples, need at least %d", ErrInsufficientData, have, need)
}
