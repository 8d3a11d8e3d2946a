package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/liftguard/pkg/reconstruct"
)

var (
	trainEpochs int
	trainOut    string
)

var trainCmd = &cobra.Command{
	Use:   "train <normal_session.csv>",
	Short: "Train the sequence model on normal movement and save its weights",
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

		progress := make(chan reconstruct.Progress, opts.Stream.ProgressBuffer)
		logged := make(chan struct{})
		go func() {
			defer close(logged)
			for pr := range progress {
				log.WithField("epoch", pr.Epoch).Infof("loss=%.6f val_loss=%.6f", pr.Loss, pr.ValLoss)
			}
		}()

		model, err := p.Train(ctx, samples, trainEpochs, progress)
		close(progress)
		<-logged
		if err != nil {
			return err
		}

		out := trainOut
		if out == "" {
			out = opts.Model.Weights
		}
		if out == "" {
			return fmt.Errorf("no output path: set --out or model.weights")
		}
		if err := model.SaveFile(out); err != nil {
			return err
		}
		log.WithField("path", out).Info("saved model weights")
		return nil
	},
}

func init() {
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 30, "Training epochs")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "Weights output file (default: model.weights)")
}
