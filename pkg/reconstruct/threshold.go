package reconstruct

import "github.com/hed1ad/liftguard/pkg/stats"

// DefaultPercentile is the batch percentile used as the anomaly cutoff.
const DefaultPercentile = 95.0

// Threshold is the batch-relative anomaly cutoff: the p-th percentile of
// the reconstruction errors of the current batch. It is recomputed for
// every batch, so the same window can be flagged in one batch and not in
// another.
func Threshold(errs []float64, p float64) float64 {
	return stats.Percentile(errs, p)
}

// Flags marks every error strictly above the threshold.
func Flags(errs []float64, threshold float64) []bool {
	flags := make([]bool, len(errs))
	for i, e := range errs {
		flags[i] = e > threshold
	}
	return flags
}
