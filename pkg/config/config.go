// Package config holds the runtime options of liftguard, read from an
// optional config file, LIFTGUARD_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/preprocess"
)

// EnvPrefix prefixes every environment variable, e.g. LIFTGUARD_MODEL_EPOCHS.
const EnvPrefix = "LIFTGUARD"

// Options is the complete configuration, one section per concern.
type Options struct {
	Model     Model     `mapstructure:"model" json:"model"`
	Normalize Normalize `mapstructure:"normalize" json:"normalize"`
	Detectors Detectors `mapstructure:"detectors" json:"detectors"`
	Stream    Stream    `mapstructure:"stream" json:"stream"`
	Report    Report    `mapstructure:"report" json:"report"`
	Server    Server    `mapstructure:"server" json:"server"`
}

// Model configures the sequence autoencoder and its training.
type Model struct {
	// Weights is the path of the trained weights file. Empty or missing
	// falls back to a default-initialized model.
	Weights         string  `mapstructure:"weights" json:"weights"`
	Timesteps       int     `mapstructure:"timesteps" json:"timesteps"`
	OuterUnits      int     `mapstructure:"outer_units" json:"outer_units"`
	LatentUnits     int     `mapstructure:"latent_units" json:"latent_units"`
	BatchSize       int     `mapstructure:"batch_size" json:"batch_size"`
	ValidationSplit float64 `mapstructure:"validation_split" json:"validation_split"`
	LearningRate    float64 `mapstructure:"learning_rate" json:"learning_rate"`
	ClipNorm        float64 `mapstructure:"clip_norm" json:"clip_norm"`
	// Epochs trained per realtime run, with progress events.
	Epochs int `mapstructure:"epochs" json:"epochs"`
	// AnalyzeEpochs trained per synchronous analysis.
	AnalyzeEpochs int   `mapstructure:"analyze_epochs" json:"analyze_epochs"`
	Seed          int64 `mapstructure:"seed" json:"seed"`
}

// Normalize configures feature scaling.
type Normalize struct {
	// Strict rejects zero-variance features instead of mapping them to 0.
	Strict bool `mapstructure:"strict" json:"strict"`
}

// Detectors configures the Isolation Forest and One-Class SVM.
type Detectors struct {
	Contamination float64 `mapstructure:"contamination" json:"contamination"`
	Trees         int     `mapstructure:"trees" json:"trees"`
	SampleSize    int     `mapstructure:"sample_size" json:"sample_size"`
	Seed          int64   `mapstructure:"seed" json:"seed"`
	Nu            float64 `mapstructure:"nu" json:"nu"`
	// Gamma of the SVM kernel; 0 means 1/n_features.
	Gamma     float64 `mapstructure:"gamma" json:"gamma"`
	Tolerance float64 `mapstructure:"tolerance" json:"tolerance"`
}

// Stream configures event delivery to live observers.
type Stream struct {
	Pace           time.Duration `mapstructure:"pace" json:"pace"`
	ProgressBuffer int           `mapstructure:"progress_buffer" json:"progress_buffer"`
	// Backlog is the number of events kept per session for replay.
	Backlog int `mapstructure:"backlog" json:"backlog"`
	// Retention keeps a finished session replayable this long.
	Retention time.Duration `mapstructure:"retention" json:"retention"`
}

// Report configures the batch analysis result.
type Report struct {
	ClassificationConfidence float64 `mapstructure:"classification_confidence" json:"classification_confidence"`
	PlotURL                  string  `mapstructure:"plot_url" json:"plot_url"`
}

// Server holds the listen addresses of the serve command.
type Server struct {
	Address       string `mapstructure:"address" json:"address"`
	HealthAddress string `mapstructure:"health_address" json:"health_address"`
}

// Default returns the options used when nothing is configured.
func Default() Options {
	return Options{
		Model: Model{
			Weights:         "lstm_autoencoder.gob",
			Timesteps:       preprocess.DefaultTimesteps,
			OuterUnits:      64,
			LatentUnits:     32,
			BatchSize:       32,
			ValidationSplit: 0.1,
			LearningRate:    0.001,
			ClipNorm:        1.0,
			Epochs:          30,
			AnalyzeEpochs:   1,
			Seed:            42,
		},
		Detectors: Detectors{
			Contamination: 0.01,
			Trees:         100,
			SampleSize:    256,
			Seed:          42,
			Nu:            0.01,
			Tolerance:     1e-3,
		},
		Stream: Stream{
			Pace:           emitter.DefaultPace,
			ProgressBuffer: 8,
			Backlog:        emitter.DefaultBacklog,
			Retention:      emitter.DefaultRetention,
		},
		Report: Report{
			ClassificationConfidence: 0.85,
			PlotURL:                  "/static/anomaly_plot.png",
		},
		Server: Server{
			Address:       "0.0.0.0:8000",
			HealthAddress: "0.0.0.0:8080",
		},
	}
}

// SetDefaults registers every key with its default so environment
// variables and config files can override any of them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	for key, val := range map[string]any{
		"model.weights":                    d.Model.Weights,
		"model.timesteps":                  d.Model.Timesteps,
		"model.outer_units":                d.Model.OuterUnits,
		"model.latent_units":               d.Model.LatentUnits,
		"model.batch_size":                 d.Model.BatchSize,
		"model.validation_split":           d.Model.ValidationSplit,
		"model.learning_rate":              d.Model.LearningRate,
		"model.clip_norm":                  d.Model.ClipNorm,
		"model.epochs":                     d.Model.Epochs,
		"model.analyze_epochs":             d.Model.AnalyzeEpochs,
		"model.seed":                       d.Model.Seed,
		"normalize.strict":                 d.Normalize.Strict,
		"detectors.contamination":          d.Detectors.Contamination,
		"detectors.trees":                  d.Detectors.Trees,
		"detectors.sample_size":            d.Detectors.SampleSize,
		"detectors.seed":                   d.Detectors.Seed,
		"detectors.nu":                     d.Detectors.Nu,
		"detectors.gamma":                  d.Detectors.Gamma,
		"detectors.tolerance":              d.Detectors.Tolerance,
		"stream.pace":                      d.Stream.Pace,
		"stream.progress_buffer":           d.Stream.ProgressBuffer,
		"stream.backlog":                   d.Stream.Backlog,
		"stream.retention":                 d.Stream.Retention,
		"report.classification_confidence": d.Report.ClassificationConfidence,
		"report.plot_url":                  d.Report.PlotURL,
		"server.address":                   d.Server.Address,
		"server.health_address":            d.Server.HealthAddress,
	} {
		v.SetDefault(key, val)
	}
}

// Load reads options from v, layering an optional config file and the
// environment over the defaults. A missing file named by path is an error;
// an empty path skips the file.
func Load(v *viper.Viper, path string) (Options, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("decoding config: %w", err)
	}
	return opts, opts.Validate()
}

// Validate rejects options no run could use.
func (o Options) Validate() error {
	var errs []error
	if o.Model.Timesteps < 1 {
		errs = append(errs, fmt.Errorf("model.timesteps must be positive, got %d", o.Model.Timesteps))
	}
	if o.Model.OuterUnits < 1 || o.Model.LatentUnits < 1 {
		errs = append(errs, errors.New("model units must be positive"))
	}
	if o.Model.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("model.batch_size must be positive, got %d", o.Model.BatchSize))
	}
	if o.Model.ValidationSplit < 0 || o.Model.ValidationSplit >= 1 {
		errs = append(errs, fmt.Errorf("model.validation_split must be in [0,1), got %g", o.Model.ValidationSplit))
	}
	if o.Model.Epochs < 0 || o.Model.AnalyzeEpochs < 0 {
		errs = append(errs, errors.New("epochs must not be negative"))
	}
	if o.Detectors.Contamination <= 0 || o.Detectors.Contamination > 0.5 {
		errs = append(errs, fmt.Errorf("detectors.contamination must be in (0,0.5], got %g", o.Detectors.Contamination))
	}
	if o.Detectors.Nu <= 0 || o.Detectors.Nu > 1 {
		errs = append(errs, fmt.Errorf("detectors.nu must be in (0,1], got %g", o.Detectors.Nu))
	}
	if o.Detectors.Trees < 1 || o.Detectors.SampleSize < 1 {
		errs = append(errs, errors.New("detectors.trees and detectors.sample_size must be positive"))
	}
	if o.Stream.Pace < 0 {
		errs = append(errs, fmt.Errorf("stream.pace must not be negative, got %s", o.Stream.Pace))
	}
	if o.Stream.Backlog < 1 {
		errs = append(errs, fmt.Errorf("stream.backlog must be positive, got %d", o.Stream.Backlog))
	}
	if o.Stream.Retention < 0 {
		errs = append(errs, fmt.Errorf("stream.retention must not be negative, got %s", o.Stream.Retention))
	}
	return errors.Join(errs...)
}
