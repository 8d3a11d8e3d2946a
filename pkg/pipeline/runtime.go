package pipeline

import (
	"errors"
	"fmt"

	"github.com/hed1ad/liftguard/pkg/config"
	"github.com/hed1ad/liftguard/pkg/detectors"
	"github.com/hed1ad/liftguard/pkg/detectors/iforest"
	"github.com/hed1ad/liftguard/pkg/detectors/ocsvm"
	"github.com/hed1ad/liftguard/pkg/reconstruct"
)

// Runtime is the process-wide state shared by every run: the options and
// the base model weights. It is never mutated after NewRuntime; runs train
// clones of the base model.
type Runtime struct {
	opts   config.Options
	base   *reconstruct.Model
	loaded bool
}

// NewRuntime builds the base model and loads its weights. Missing weights
// are logged and leave the model default-initialized; unreadable or
// mismatched weights are an error.
func NewRuntime(opts config.Options) (*Runtime, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{
		opts: opts,
		base: reconstruct.New(modelOptions(opts.Model)...),
	}

	err := rt.base.LoadFile(opts.Model.Weights)
	switch {
	case err == nil:
		rt.loaded = true
		log.WithField("path", opts.Model.Weights).Info("loaded model weights")
	case errors.Is(err, reconstruct.ErrModelUnavailable):
		log.WithError(err).Warn("continuing with an untrained model")
	default:
		return nil, fmt.Errorf("loading weights: %w", err)
	}
	return rt, nil
}

// Options returns the options the runtime was built with.
func (r *Runtime) Options() config.Options {
	return r.opts
}

// WeightsLoaded reports whether trained weights were found at startup.
func (r *Runtime) WeightsLoaded() bool {
	return r.loaded
}

func (r *Runtime) model() *reconstruct.Model {
	return r.base.Clone()
}

func (r *Runtime) forest() detectors.Factory {
	d := r.opts.Detectors
	return iforest.Factory(
		iforest.WithTrees(d.Trees),
		iforest.WithSampleSize(d.SampleSize),
		iforest.WithContamination(d.Contamination),
		iforest.WithSeed(d.Seed),
	)
}

func (r *Runtime) svm() detectors.Factory {
	d := r.opts.Detectors
	return ocsvm.Factory(
		ocsvm.WithNu(d.Nu),
		ocsvm.WithGamma(d.Gamma),
		ocsvm.WithTolerance(d.Tolerance),
	)
}

func modelOptions(m config.Model) []reconstruct.Option {
	return []reconstruct.Option{
		reconstruct.WithTimesteps(m.Timesteps),
		reconstruct.WithUnits(m.OuterUnits, m.LatentUnits),
		reconstruct.WithBatchSize(m.BatchSize),
		reconstruct.WithValidationSplit(m.ValidationSplit),
		reconstruct.WithLearningRate(m.LearningRate),
		reconstruct.WithClipNorm(m.ClipNorm),
		reconstruct.WithSeed(m.Seed),
	}
}
