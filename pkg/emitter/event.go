package emitter

import (
	"github.com/hed1ad/liftguard/pkg/fusion"
)

// Type names an event on the wire.
type Type string

const (
	EpochUpdate       Type = "epoch_update"
	DatapointFeedback Type = "datapoint_feedback"
	AnalysisComplete  Type = "analysis_complete"
	AnalysisError     Type = "analysis_error"
)

// Terminal reports whether t ends a run.
func (t Type) Terminal() bool {
	return t == AnalysisComplete || t == AnalysisError
}

// Event is one message delivered to a sink. Exactly one payload is set,
// matching Type. Seq numbers the events of a run from 1 and is what
// observers resume from.
type Event struct {
	SessionID string     `json:"session_id"`
	Seq       int        `json:"seq"`
	Type      Type       `json:"type"`
	Epoch     *Epoch     `json:"epoch,omitempty"`
	Datapoint *Datapoint `json:"datapoint,omitempty"`
	Status    *Status    `json:"status,omitempty"`
}

// Epoch reports one finished training epoch. Epoch is 1-based.
type Epoch struct {
	Epoch   int     `json:"epoch"`
	Loss    float64 `json:"loss"`
	ValLoss float64 `json:"val_loss"`
}

// Datapoint is the full per-sample result. Index is 1-based and strictly
// ascending within a run.
type Datapoint struct {
	Index int     `json:"index"`
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
	Core  float64 `json:"core"`
	MSE   float64 `json:"mse"`
	fusion.Verdict
	Alerts []string `json:"alerts"`
}

// Status carries the message of a terminal event.
type Status struct {
	Message string `json:"message"`
}
