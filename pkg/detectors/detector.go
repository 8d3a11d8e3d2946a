// Package detectors provides the unsupervised point-outlier detectors that
// corroborate the sequence model. Detectors score each sample
// independently of its neighbours and are refit on every batch.
package detectors

import "errors"

var (
	// ErrEmptyData is returned when fitting on no samples.
	ErrEmptyData = errors.New("empty training data")
	// ErrNotTrained is returned when scoring before Fit.
	ErrNotTrained = errors.New("model not trained")
)

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Predict returns anomaly scores for the given samples.
	// Higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)
}

// Flagger turns scores into per-sample outlier decisions.
type Flagger interface {
	Detector

	// Flag reports, for each sample, whether it lies outside what the
	// detector learned during Fit.
	Flag(data [][]float64) ([]bool, error)
}

// Factory builds a fresh, untrained detector.
type Factory func() Flagger

// FitFlag builds a new detector, fits it on data and flags the same data.
func FitFlag(newDetector Factory, data [][]float64) ([]bool, error) {
	d := newDetector()
	if err := d.Fit(data); err != nil {
		return nil, err
	}
	return d.Flag(data)
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of outliers in the data.
	Contamination float64
	// RandomSeed for reproducibility.
	RandomSeed int64
}

// DefaultConfig returns the defaults used for per-batch outlier detection.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.01,
		RandomSeed:    42,
	}
}

// Validate checks a feature matrix is non-empty and rectangular and
// returns its width.
func Validate(data [][]float64) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyData
	}
	width := len(data[0])
	if width == 0 {
		return 0, errors.New("samples have no features")
	}
	for _, row := range data[1:] {
		if len(row) != width {
			return 0, errors.New("samples have inconsistent feature counts")
		}
	}
	return width, nil
}
