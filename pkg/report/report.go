// Package report turns a scored batch into the summary returned by the
// synchronous analysis entry point and computes the per-session metrics
// handed to the record store.
package report

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/liftguard/pkg/sensor"
)

// Suggestion types.
const (
	TypeAnomaly   = "anomaly"
	TypeStability = "stability"
	TypeBalance   = "balance"
	TypeForm      = "form"
)

// ScoreFloor is the score below which a stability or balance suggestion
// is given.
const ScoreFloor = 0.7

// Suggestion is one piece of coaching feedback.
type Suggestion struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// BatchResult summarizes one synchronous analysis.
type BatchResult struct {
	ClassificationConfidence float64      `json:"classification_confidence"`
	StabilityScore           float64      `json:"stability_score"`
	BalanceScore             float64      `json:"balance_score"`
	AnomalyDetected          bool         `json:"anomaly_detected"`
	PlotURL                  string       `json:"plot_url"`
	Suggestions              []Suggestion `json:"suggestions"`
}

// Suggest builds the ordered suggestions for a batch. A form suggestion is
// given only when nothing else applies.
func Suggest(anomaly bool, stability, balance float64) []Suggestion {
	var out []Suggestion
	if anomaly {
		out = append(out, Suggestion{
			Type:    TypeAnomaly,
			Message: "Anomaly detected!",
			Details: []string{"Check foot placement", "Improve core stability"},
		})
	}
	if stability < ScoreFloor {
		out = append(out, Suggestion{
			Type:    TypeStability,
			Message: "Low stability detected.",
			Details: []string{"Strengthen your core", "Practice balance drills"},
		})
	}
	if balance < ScoreFloor {
		out = append(out, Suggestion{
			Type:    TypeBalance,
			Message: "Balance issue detected.",
			Details: []string{"Work on symmetry", "Focus on even weight distribution"},
		})
	}
	if len(out) == 0 {
		out = append(out, Suggestion{
			Type:    TypeForm,
			Message: "Good form!",
			Details: []string{"Keep it up!"},
		})
	}
	return out
}

// BatchScores derives the stability and balance scores from the left/right
// difference over normalized samples: stability is 1 - mean|l-r| and
// balance is max(0, 1 - std(l-r)) with the population deviation.
func BatchScores(samples []sensor.NormalizedSample) (stability, balance float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	diff := make([]float64, len(samples))
	abs := make([]float64, len(samples))
	for i, s := range samples {
		diff[i] = s.LeftFootPressure - s.RightFootPressure
		abs[i] = math.Abs(diff[i])
	}

	stability = 1 - stat.Mean(abs, nil)
	_, variance := stat.PopMeanVariance(diff, nil)
	balance = math.Max(0, 1-math.Sqrt(variance))
	return stability, balance
}

// SessionMetrics are the aggregates stored once a session closes.
type SessionMetrics struct {
	BalanceScore   float64 `json:"balance_score"`
	StabilityScore float64 `json:"stability_score"`
	InjuryRisk     float64 `json:"injury_risk"`
}

// NewSessionMetrics computes balance = 1 - |mean(left) - mean(right)|,
// stability = mean(core) and injury risk = 1 - balance*stability.
func NewSessionMetrics(samples []sensor.NormalizedSample) SessionMetrics {
	if len(samples) == 0 {
		return SessionMetrics{}
	}
	left := make([]float64, len(samples))
	right := make([]float64, len(samples))
	core := make([]float64, len(samples))
	for i, s := range samples {
		left[i] = s.LeftFootPressure
		right[i] = s.RightFootPressure
		core[i] = s.CoreStability
	}

	balance := 1 - math.Abs(stat.Mean(left, nil)-stat.Mean(right, nil))
	stability := stat.Mean(core, nil)
	return SessionMetrics{
		BalanceScore:   balance,
		StabilityScore: stability,
		InjuryRisk:     1 - balance*stability,
	}
}
