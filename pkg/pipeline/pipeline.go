// Package pipeline runs lifting-session analyses end to end: normalize,
// window, train and score the sequence model, run the point detectors,
// fuse, check rules and deliver the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/sirupsen/logrus"

	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/fusion"
	"github.com/hed1ad/liftguard/pkg/operational"
	"github.com/hed1ad/liftguard/pkg/reconstruct"
	"github.com/hed1ad/liftguard/pkg/report"
	"github.com/hed1ad/liftguard/pkg/sensor"
)

var log = logrus.WithField("component", "pipeline")

// CompleteMessage is carried by the analysis_complete event.
const CompleteMessage = "Analysis complete!"

const (
	modeBatch    = "batch"
	modeRealtime = "realtime"
	modeTrain    = "train"
)

var (
	// ErrCancelled ends a run whose context was cancelled.
	ErrCancelled = errors.New("analysis cancelled")
	// ErrClosed is returned for runs requested after Close.
	ErrClosed = errors.New("pipeline closed")
)

// Pipeline executes analyses against a shared Runtime. Runs are independent
// and may proceed concurrently.
type Pipeline struct {
	rt *Runtime

	// mu orders admitting a run (wg.Add) against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Pipeline over rt.
func New(rt *Runtime) *Pipeline {
	return &Pipeline{rt: rt}
}

// Analyze scores a batch synchronously and summarizes it.
func (p *Pipeline) Analyze(ctx context.Context, samples []sensor.Sample) (*report.BatchResult, error) {
	if !p.admit() {
		return nil, ErrClosed
	}
	defer p.wg.Done()
	done := track(modeBatch)

	res, err := p.analyze(ctx, samples)
	if err != nil {
		err = cancelled(err)
		done(emitter.Failed)
		return nil, err
	}
	done(emitter.Complete)
	return res, nil
}

func (p *Pipeline) analyze(ctx context.Context, samples []sensor.Sample) (*report.BatchResult, error) {
	b, err := p.prepare(samples)
	if err != nil {
		return nil, err
	}

	model := p.rt.model()
	if err := model.Fit(ctx, b.windows, p.rt.opts.Model.AnalyzeEpochs, nil); err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	sc, err := p.score(model, b)
	if err != nil {
		return nil, err
	}
	observe(sc)

	stability, balance := report.BatchScores(b.trimmed)
	anomaly := fusion.Any(sc.verdicts)
	return &report.BatchResult{
		ClassificationConfidence: p.rt.opts.Report.ClassificationConfidence,
		StabilityScore:           stability,
		BalanceScore:             balance,
		AnomalyDetected:          anomaly,
		PlotURL:                  p.rt.opts.Report.PlotURL,
		Suggestions:              report.Suggest(anomaly, stability, balance),
	}, nil
}

// AnalyzeRealtime validates samples and then runs the analysis on its own
// goroutine, delivering progress and results to sink under sessionID.
// With fewer usable samples than one window it emits a single
// analysis_error and returns sensor.ErrInsufficientData without starting
// a run. ctx governs the whole asynchronous run: cancelling it ends the run
// with an "analysis cancelled" error event.
func (p *Pipeline) AnalyzeRealtime(ctx context.Context, sessionID string, samples []sensor.Sample, sink emitter.Sink) error {
	em := emitter.New(sessionID, sink, emitter.WithPace(p.rt.opts.Stream.Pace))
	if !p.admit() {
		if err := em.Fail(ErrClosed); err != nil {
			log.WithError(err).WithField("session", sessionID).Warn("could not report rejected run")
		}
		return ErrClosed
	}

	done := track(modeRealtime)
	b, err := p.prepare(samples)
	if err != nil {
		if ferr := em.Fail(err); ferr != nil {
			log.WithError(ferr).WithField("session", sessionID).Warn("could not report failed run")
		}
		done(emitter.Failed)
		p.wg.Done()
		return err
	}

	go func() {
		defer p.wg.Done()
		p.stream(ctx, em, b)
		done(em.State())
	}()
	return nil
}

func (p *Pipeline) stream(ctx context.Context, em *emitter.Emitter, b *batch) {
	l := log.WithField("session", em.SessionID())
	err := p.run(ctx, em, b)
	if err == nil {
		l.Info("analysis complete")
		return
	}

	err = cancelled(err)
	l.WithError(err).Warn("analysis failed")
	if ferr := em.Fail(err); ferr != nil && !errors.Is(ferr, emitter.ErrTerminal) {
		l.WithError(ferr).Warn("could not deliver analysis error")
	}
}

func (p *Pipeline) run(ctx context.Context, em *emitter.Emitter, b *batch) error {
	if err := em.Start(); err != nil {
		return err
	}

	model := p.rt.model()
	progress := make(chan reconstruct.Progress, p.rt.opts.Stream.ProgressBuffer)
	forwarded := make(chan error, 1)
	go func() {
		forwarded <- em.Forward(progress)
	}()
	err := model.Fit(ctx, b.windows, p.rt.opts.Model.Epochs, progress)
	close(progress)
	if ferr := <-forwarded; err == nil {
		err = ferr
	}
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}

	if err := em.BeginScoring(); err != nil {
		return err
	}
	sc, err := p.score(model, b)
	if err != nil {
		return err
	}
	if err := em.BeginStreaming(); err != nil {
		return err
	}

	for i, v := range sc.verdicts {
		s := b.trimmed[i]
		err := em.Sample(ctx, emitter.Datapoint{
			Index:   i + 1,
			Left:    s.LeftFootPressure,
			Right:   s.RightFootPressure,
			Core:    s.CoreStability,
			MSE:     sc.errors[i],
			Verdict: v,
			Alerts:  sc.alerts[i],
		})
		if err != nil {
			return err
		}
	}
	observe(sc)

	return em.Complete(CompleteMessage)
}

// Train fits a copy of the base model on samples and returns it. The base
// model is left untouched; one Progress per epoch is sent on progress when
// it is non-nil.
func (p *Pipeline) Train(ctx context.Context, samples []sensor.Sample, epochs int, progress chan<- reconstruct.Progress) (*reconstruct.Model, error) {
	done := track(modeTrain)
	b, err := p.prepare(samples)
	if err != nil {
		done(emitter.Failed)
		return nil, err
	}

	model := p.rt.model()
	if err := model.Fit(ctx, b.windows, epochs, progress); err != nil {
		done(emitter.Failed)
		return nil, cancelled(err)
	}
	done(emitter.Complete)
	return model, nil
}

// SessionMetrics computes the session aggregates over the cleaned,
// normalized samples.
func (p *Pipeline) SessionMetrics(samples []sensor.Sample) (report.SessionMetrics, error) {
	b, err := p.prepare(samples)
	if err != nil {
		return report.SessionMetrics{}, err
	}
	return report.NewSessionMetrics(b.normalized), nil
}

// admit registers a new run unless the pipeline is closed. Admitted runs
// must call p.wg.Done when they finish.
func (p *Pipeline) admit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close rejects new runs and waits for in-flight ones to finish.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Wait()
}

// Wait blocks until every admitted analysis has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// IsAlive reports liveness; the pipeline holds no external connections.
func (p *Pipeline) IsAlive() healthcheck.Check {
	return func() error {
		return nil
	}
}

// IsReady fails once the pipeline is closing.
func (p *Pipeline) IsReady() healthcheck.Check {
	return func() error {
		if p.isClosed() {
			return ErrClosed
		}
		return nil
	}
}

func cancelled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return err
}

// track counts a run as started and returns a func recording its end.
func track(mode string) func(emitter.State) {
	start := time.Now()
	operational.RunsStarted.WithLabelValues(mode).Inc()
	operational.ActiveRuns.Inc()
	return func(s emitter.State) {
		operational.ActiveRuns.Dec()
		operational.RunsFinished.WithLabelValues(mode, s.String()).Inc()
		operational.RunDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
}

func observe(sc *scores) {
	operational.SamplesScored.Add(float64(len(sc.verdicts)))
	operational.FinalAnomalies.Add(float64(fusion.Count(sc.verdicts)))
}
