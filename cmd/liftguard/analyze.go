package main

import (
	"context"
	"os"
	"os/signal"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/hed1ad/liftguard/pkg/io"
	"github.com/hed1ad/liftguard/pkg/io/csv"
	"github.com/hed1ad/liftguard/pkg/report"
	"github.com/hed1ad/liftguard/pkg/sensor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var analyzeCmd = &cobra.Command{
	Use:   "analyze <session.csv>",
	Short: "Analyze a session and print the summary as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := withInterrupt(cmd.Context())
		defer stop()

		samples, err := readSamples(args[0])
		if err != nil {
			return err
		}
		p, err := newPipeline()
		if err != nil {
			return err
		}

		res, err := p.Analyze(ctx, samples)
		if err != nil {
			return err
		}
		metrics, err := p.SessionMetrics(samples)
		if err != nil {
			return err
		}

		out := struct {
			*report.BatchResult
			SessionMetrics report.SessionMetrics `json:"session_metrics"`
		}{res, metrics}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func readSamples(path string) ([]sensor.Sample, error) {
	r, err := csv.NewReader(path)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func withInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}
