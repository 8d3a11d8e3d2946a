// Command liftguard analyzes lifting sessions for anomalous movement.
package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hed1ad/liftguard/pkg/config"
	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/pipeline"
)

var (
	cfgFile  string
	logLevel string
	opts     config.Options
)

var rootCmd = &cobra.Command{
	Use:           "liftguard",
	Short:         "Detect anomalous movement in lifting-session sensor data",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		initLogger()
		return initConfig(cmd)
	},
}

// initConfig layers the config file, LIFTGUARD_* variables and changed
// flags over the defaults.
func initConfig(cmd *cobra.Command) error {
	v := viper.New()
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Dotted flags mirror config keys; the rest are command options.
		if strings.Contains(f.Name, ".") && bindErr == nil {
			bindErr = v.BindPFlag(f.Name, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	var err error
	opts, err = config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	log.Debugf("using configuration: %+v", opts)
	return nil
}

func initLogger() {
	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableColors: false, FullTimestamp: true, PadLevelText: true, DisableQuote: true})
}

func initFlags() {
	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warning, error")
	pf.String("model.weights", d.Model.Weights, "Trained model weights file")
	pf.Int("model.epochs", d.Model.Epochs, "Training epochs per realtime run")
	pf.Int("model.analyze_epochs", d.Model.AnalyzeEpochs, "Training epochs per batch analysis")
	pf.Bool("normalize.strict", d.Normalize.Strict, "Reject zero-variance features")
	pf.Duration("stream.pace", d.Stream.Pace, "Delay between streamed sample events")

	rootCmd.AddCommand(analyzeCmd, streamCmd, trainCmd, serveCmd)
}

func newPipeline() (*pipeline.Pipeline, error) {
	rt, err := pipeline.NewRuntime(opts)
	if err != nil {
		return nil, err
	}
	return pipeline.New(rt), nil
}

// stdoutSink writes events to stdout as JSON lines.
func stdoutSink() emitter.Sink {
	return emitter.NewWriterSink(os.Stdout)
}

func main() {
	initFlags()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
