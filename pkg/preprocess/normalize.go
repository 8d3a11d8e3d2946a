// Package preprocess scales raw samples into [0,1] and slices the
// normalized sequence into fixed-length windows for the sequence model.
package preprocess

import (
	"github.com/sirupsen/logrus"

	"github.com/hed1ad/liftguard/pkg/sensor"
)

var log = logrus.WithField("component", "preprocess")

// Bounds holds the per-feature minimum and maximum fitted on one batch.
type Bounds struct {
	Min [sensor.NumFeatures]float64 `json:"min"`
	Max [sensor.NumFeatures]float64 `json:"max"`
}

// Option configures Fit.
type Option func(*fitOptions)

type fitOptions struct {
	strict bool
}

// WithStrict makes Fit fail on zero-variance features instead of mapping
// them to a constant.
func WithStrict(strict bool) Option {
	return func(o *fitOptions) {
		o.strict = strict
	}
}

// Fit computes per-feature bounds over the batch. A constant feature is
// reported as a *sensor.DegenerateFeatureError: returned in strict mode,
// logged otherwise (Transform then maps that feature to 0).
func Fit(samples []sensor.Sample, opts ...Option) (Bounds, error) {
	var o fitOptions
	for _, opt := range opts {
		opt(&o)
	}

	var b Bounds
	if len(samples) == 0 {
		return b, sensor.InsufficientData(0, 1)
	}

	first := samples[0].Vector()
	copy(b.Min[:], first)
	copy(b.Max[:], first)
	for _, s := range samples[1:] {
		for j, v := range s.Vector() {
			if v < b.Min[j] {
				b.Min[j] = v
			}
			if v > b.Max[j] {
				b.Max[j] = v
			}
		}
	}

	names := sensor.FeatureNames()
	for j := range b.Min {
		if b.Min[j] != b.Max[j] {
			continue
		}
		err := &sensor.DegenerateFeatureError{Feature: names[j], Value: b.Min[j]}
		if o.strict {
			return b, err
		}
		log.WithError(err).Warn("constant feature will be normalized to 0")
	}

	return b, nil
}

// Transform maps every sample into [0,1] using the fitted bounds.
// Values outside the fitted range fall outside [0,1] as well.
func (b Bounds) Transform(samples []sensor.Sample) []sensor.NormalizedSample {
	out := make([]sensor.NormalizedSample, len(samples))
	for i, s := range samples {
		out[i] = sensor.NormalizedFromVector(b.scale(s.Vector()))
	}
	return out
}

func (b Bounds) scale(v []float64) []float64 {
	scaled := make([]float64, len(v))
	for j, x := range v {
		span := b.Max[j] - b.Min[j]
		if span == 0 {
			scaled[j] = 0
			continue
		}
		scaled[j] = (x - b.Min[j]) / span
	}
	return scaled
}

// FitTransform fits bounds on the batch and transforms it in one step.
func FitTransform(samples []sensor.Sample, opts ...Option) ([]sensor.NormalizedSample, Bounds, error) {
	b, err := Fit(samples, opts...)
	if err != nil {
		return nil, b, err
	}
	return b.Transform(samples), b, nil
}
