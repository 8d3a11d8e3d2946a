// Package rules holds the explainable threshold checks run on every sample
// alongside fusion. Checks read the batch-normalized feature values and
// the sample's reconstruction error; they never see the fused verdict.
package rules

import (
	"math"
	"strings"

	"github.com/hed1ad/liftguard/pkg/sensor"
)

// Alert strings, in evaluation order.
const (
	TotalPressureHigh  = "total pressure high"
	SevereImbalance    = "severe imbalance"
	MildImbalance      = "mild imbalance"
	LeftUnderPressure  = "left foot under-pressure"
	RightUnderPressure = "right foot under-pressure"
	LowStability       = "low stability"
	UnlearnedPattern   = "unlearned pattern (reconstruction)"
	Normal             = "parameters normal"
)

// Limits on normalized values.
const (
	MaxTotalPressure  = 1.2
	SevereImbalanceAt = 0.4
	MildImbalanceAt   = 0.2
	MinFootPressure   = 0.3
	MinCoreStability  = 0.4
)

// Separator joins alerts in text form.
const Separator = " | "

// Check evaluates the rules against one sample. At least one alert is
// always returned.
func Check(s sensor.NormalizedSample, mse, threshold float64) []string {
	var alerts []string
	left, right, core := s.LeftFootPressure, s.RightFootPressure, s.CoreStability

	if left+right > MaxTotalPressure {
		alerts = append(alerts, TotalPressureHigh)
	}
	switch diff := math.Abs(left - right); {
	case diff > SevereImbalanceAt:
		alerts = append(alerts, SevereImbalance)
	case diff > MildImbalanceAt:
		alerts = append(alerts, MildImbalance)
	}
	if left < MinFootPressure {
		alerts = append(alerts, LeftUnderPressure)
	}
	if right < MinFootPressure {
		alerts = append(alerts, RightUnderPressure)
	}
	if core < MinCoreStability {
		alerts = append(alerts, LowStability)
	}
	if mse > threshold {
		alerts = append(alerts, UnlearnedPattern)
	}

	if len(alerts) == 0 {
		return []string{Normal}
	}
	return alerts
}

// Join renders alerts as a single line.
func Join(alerts []string) string {
	return strings.Join(alerts, Separator)
}
