package main

import (
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/io/csv"
)

var (
	streamSession string
	streamOut     string
)

var streamCmd = &cobra.Command{
	Use:   "stream <session.csv>",
	Short: "Run a realtime analysis and print its events as JSON lines",
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

		if streamSession == "" {
			streamSession = uuid.NewString()
		}

		var failure error
		sinks := []emitter.Sink{stdoutSink(), emitter.SinkFunc(func(ev emitter.Event) error {
			if ev.Type == emitter.AnalysisError {
				failure = errors.New(ev.Status.Message)
			}
			return nil
		})}
		if streamOut != "" {
			w, err := csv.NewWriter(streamOut)
			if err != nil {
				return err
			}
			defer func() {
				if err := w.Close(); err != nil {
					log.WithError(err).Error("closing results file")
				}
			}()
			sinks = append(sinks, w)
		}

		if err := p.AnalyzeRealtime(ctx, streamSession, samples, emitter.Tee(sinks...)); err != nil {
			return err
		}
		p.Wait()
		return failure
	},
}

func init() {
	streamCmd.Flags().StringVar(&streamSession, "session", "", "Session id stamped on events (default: random)")
	streamCmd.Flags().StringVar(&streamOut, "out", "", "Also write per-sample results to this CSV file")
}
