package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis API, websocket events, metrics and health probes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := withInterrupt(cmd.Context())
		defer stop()

		p, err := newPipeline()
		if err != nil {
			return err
		}
		hub := emitter.NewHub(emitter.WithBacklog(opts.Stream.Backlog), emitter.WithRetention(opts.Stream.Retention))
		s := server.New(ctx, p, hub)

		api := &http.Server{Addr: opts.Server.Address, Handler: s.Handler()}
		health := &http.Server{Addr: opts.Server.HealthAddress, Handler: s.HealthHandler()}

		errs := make(chan error, 2)
		for _, srv := range []*http.Server{api, health} {
			go func(srv *http.Server) {
				log.WithField("address", srv.Addr).Info("listening")
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errs <- err
				}
			}(srv)
		}

		select {
		case <-ctx.Done():
			log.Info("shutting down")
		case err = <-errs:
			log.WithError(err).Error("server stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := api.Shutdown(shutdownCtx); serr != nil {
			log.WithError(serr).Debug("api server shutdown")
		}
		p.Close()
		if serr := health.Shutdown(shutdownCtx); serr != nil {
			log.WithError(serr).Debug("health server shutdown")
		}
		return err
	},
}
