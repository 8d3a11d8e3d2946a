// Package stats holds small order statistics shared by the scorers.
package stats

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile of data, linearly interpolating
// between the closest ranks. It returns 0 for empty input.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	pos := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
