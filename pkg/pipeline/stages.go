package pipeline

import (
	"fmt"

	"github.com/hed1ad/liftguard/pkg/detectors"
	"github.com/hed1ad/liftguard/pkg/fusion"
	"github.com/hed1ad/liftguard/pkg/preprocess"
	"github.com/hed1ad/liftguard/pkg/reconstruct"
	"github.com/hed1ad/liftguard/pkg/rules"
	"github.com/hed1ad/liftguard/pkg/sensor"
)

// batch is one run's cleaned and normalized input. trimmed[i] is the
// first sample of windows[i].
type batch struct {
	normalized []sensor.NormalizedSample
	windows    []preprocess.Window
	trimmed    []sensor.NormalizedSample
}

// prepare drops incomplete rows, checks the length precondition and then
// normalizes and windows the batch.
func (p *Pipeline) prepare(samples []sensor.Sample) (*batch, error) {
	t := p.rt.opts.Model.Timesteps
	clean := sensor.DropIncomplete(samples)
	if dropped := len(samples) - len(clean); dropped > 0 {
		log.Debugf("dropped %d incomplete samples", dropped)
	}
	if len(clean) < t {
		return nil, sensor.InsufficientData(len(clean), t)
	}

	normalized, _, err := preprocess.FitTransform(clean, preprocess.WithStrict(p.rt.opts.Normalize.Strict))
	if err != nil {
		return nil, err
	}
	windows, err := preprocess.Windows(normalized, t)
	if err != nil {
		return nil, err
	}
	trimmed, err := preprocess.Trim(normalized, t)
	if err != nil {
		return nil, err
	}
	return &batch{normalized: normalized, windows: windows, trimmed: trimmed}, nil
}

// scores holds every per-sample result of a run, aligned to batch.trimmed.
type scores struct {
	errors    []float64
	threshold float64
	verdicts  []fusion.Verdict
	alerts    [][]string
}

// score runs the reconstructor, both point detectors, fusion and the rule
// checker. A batch with no windows yields empty scores.
func (p *Pipeline) score(model *reconstruct.Model, b *batch) (*scores, error) {
	if len(b.windows) == 0 {
		return &scores{}, nil
	}

	errs, err := model.Errors(b.windows)
	if err != nil {
		return nil, fmt.Errorf("reconstruction: %w", err)
	}
	threshold := reconstruct.Threshold(errs, reconstruct.DefaultPercentile)
	lstm := reconstruct.Flags(errs, threshold)

	table := sensor.Matrix(b.trimmed)
	iso, err := detectors.FitFlag(p.rt.forest(), table)
	if err != nil {
		return nil, fmt.Errorf("isolation forest: %w", err)
	}
	svm, err := detectors.FitFlag(p.rt.svm(), table)
	if err != nil {
		return nil, fmt.Errorf("one-class svm: %w", err)
	}

	verdicts, err := fusion.Fuse(lstm, iso, svm)
	if err != nil {
		return nil, err
	}

	alerts := make([][]string, len(verdicts))
	for i, s := range b.trimmed {
		alerts[i] = rules.Check(s, errs[i], threshold)
	}

	return &scores{
		errors:    errs,
		threshold: threshold,
		verdicts:  verdicts,
		alerts:    alerts,
	}, nil
}
