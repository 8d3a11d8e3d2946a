// Package emitter delivers the progress and per-sample results of one
// analysis run to a sink as an ordered stream ending in exactly one
// terminal event.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/liftguard/pkg/operational"
	"github.com/hed1ad/liftguard/pkg/reconstruct"
)

var log = logrus.WithField("component", "emitter")

// DefaultPace is the delay between sample events.
const DefaultPace = 50 * time.Millisecond

var (
	// ErrTerminal is returned by every call made after Complete or Fail.
	ErrTerminal = errors.New("run already finished")
	// ErrTransition is returned for a call not allowed in the current state.
	ErrTransition = errors.New("invalid state transition")
	// ErrOutOfOrder is returned when a sample index does not ascend.
	ErrOutOfOrder = errors.New("sample index not ascending")
)

// State is the phase of a run.
type State int

const (
	Idle State = iota
	Training
	Scoring
	Streaming
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Training:
		return "training"
	case Scoring:
		return "scoring"
	case Streaming:
		return "streaming"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further events may follow.
func (s State) Terminal() bool {
	return s == Complete || s == Failed
}

// Emitter drives one run's state machine against a sink. It is safe for
// concurrent use, but events are only meaningful from a single producer.
type Emitter struct {
	mu        sync.Mutex
	sessionID string
	sink      Sink
	pace      time.Duration
	state     State
	last      int
	seq       int
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithPace sets the delay after each sample event. Zero disables pacing.
func WithPace(d time.Duration) Option {
	return func(e *Emitter) {
		e.pace = d
	}
}

// New creates an Emitter in the Idle state.
func New(sessionID string, sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sessionID: sessionID,
		sink:      sink,
		pace:      DefaultPace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SessionID returns the routing key stamped on every event.
func (e *Emitter) SessionID() string {
	return e.sessionID
}

// State returns the current phase.
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Emitter) transition(from, to State) error {
	if e.state.Terminal() {
		return ErrTerminal
	}
	if e.state != from {
		return fmt.Errorf("%w: %s to %s", ErrTransition, e.state, to)
	}
	e.state = to
	return nil
}

func (e *Emitter) send(ev Event) error {
	e.seq++
	ev.SessionID = e.sessionID
	ev.Seq = e.seq
	if err := e.sink.Send(ev); err != nil {
		return fmt.Errorf("sending %s: %w", ev.Type, err)
	}
	operational.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Start moves Idle to Training.
func (e *Emitter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(Idle, Training)
}

// Epoch emits one epoch_update. Only valid while Training.
func (e *Emitter) Epoch(p reconstruct.Progress) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		return ErrTerminal
	}
	if e.state != Training {
		return fmt.Errorf("%w: epoch update while %s", ErrTransition, e.state)
	}
	operational.EpochLoss.Set(p.Loss)
	return e.send(Event{
		Type:  EpochUpdate,
		Epoch: &Epoch{Epoch: p.Epoch, Loss: p.Loss, ValLoss: p.ValLoss},
	})
}

// Forward drains progress until it is closed, emitting one epoch_update per
// message. After the first send error it keeps draining so the producer
// never blocks, and returns that error once the channel closes.
func (e *Emitter) Forward(progress <-chan reconstruct.Progress) error {
	var first error
	for p := range progress {
		if first != nil {
			continue
		}
		if err := e.Epoch(p); err != nil {
			first = err
			log.WithError(err).WithField("session", e.sessionID).Warn("dropping training progress")
		}
	}
	return first
}

// BeginScoring moves Training to Scoring.
func (e *Emitter) BeginScoring() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(Training, Scoring)
}

// BeginStreaming moves Scoring to Streaming.
func (e *Emitter) BeginStreaming() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(Scoring, Streaming)
}

// Sample emits one datapoint_feedback and then waits for the pace delay.
// Indices must be strictly ascending. The wait ends early with ctx.Err()
// when ctx is done.
func (e *Emitter) Sample(ctx context.Context, d Datapoint) error {
	if err := e.sample(d); err != nil {
		return err
	}
	if e.pace <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(e.pace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Emitter) sample(d Datapoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		return ErrTerminal
	}
	if e.state != Streaming {
		return fmt.Errorf("%w: sample while %s", ErrTransition, e.state)
	}
	if d.Index <= e.last {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, d.Index, e.last)
	}
	if err := e.send(Event{Type: DatapointFeedback, Datapoint: &d}); err != nil {
		return err
	}
	e.last = d.Index
	return nil
}

// Complete moves Streaming to Complete and emits analysis_complete.
func (e *Emitter) Complete(message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.transition(Streaming, Complete); err != nil {
		return err
	}
	return e.send(Event{Type: AnalysisComplete, Status: &Status{Message: message}})
}

// Fail moves any non-terminal state to Failed and emits analysis_error
// carrying cause's message. The state is Failed even if the send fails.
func (e *Emitter) Fail(cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		return ErrTerminal
	}
	e.state = Failed
	return e.send(Event{Type: AnalysisError, Status: &Status{Message: cause.Error()}})
}
