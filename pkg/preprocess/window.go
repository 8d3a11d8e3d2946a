package preprocess

import (
	"github.com/hed1ad/liftguard/pkg/sensor"
)

// DefaultTimesteps is the window length used by the sequence model.
const DefaultTimesteps = 10

// Window is T consecutive normalized feature vectors.
type Window [][]float64

// Windows slides a stride-1 window of length t over seq. It returns
// len(seq)-t windows; window i covers samples [i, i+t). The last t-1
// samples never anchor a window.
func Windows(seq []sensor.NormalizedSample, t int) ([]Window, error) {
	if t <= 0 || len(seq) < t {
		return nil, sensor.InsufficientData(len(seq), t)
	}

	rows := sensor.Matrix(seq)
	windows := make([]Window, len(seq)-t)
	for i := range windows {
		windows[i] = Window(rows[i : i+t])
	}
	return windows, nil
}

// Trim returns the samples that anchor a window, seq[:len(seq)-t]. The
// point detectors score this table so their index space matches the
// reconstruction errors.
func Trim(seq []sensor.NormalizedSample, t int) ([]sensor.NormalizedSample, error) {
	if t <= 0 || len(seq) < t {
		return nil, sensor.InsufficientData(len(seq), t)
	}
	return seq[:len(seq)-t], nil
}
