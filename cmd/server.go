package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/courtres/internal/portal"
	"github.com/example/courtres/internal/reservation"
	"github.com/example/courtres/internal/scheduler"
	"github.com/example/courtres/internal/web"
)

func portalBooker(a *app) (reservation.Booker, error) {
	pc, err := a.cfg.PortalConfig()
	if err != nil {
		return nil, err
	}
	return portal.New(pc, a.log.Named("portal"), a.metrics)
}

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the actor host and the ops listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, appOptions{migrate: migrateUp, booker: portalBooker})
			if err != nil {
				return err
			}
			defer a.Close()

			host := &scheduler.Host{
				Actors:   a.actors,
				Interval: a.cfg.Actor.PollInterval,
				Batch:    a.cfg.Actor.Batch,
			}
			hostDone := make(chan error, 1)
			go func() { hostDone <- host.Run(ctx) }()

			a.log.Info("server started",
				zap.String("version", Version),
				zap.String("actor_backend", a.cfg.Actor.Backend),
				zap.Duration("poll_interval", host.Interval))

			ws := &web.Server{
				Actors:  a.svc,
				Metrics: a.metrics,
				Log:     a.log.Named("web"),
				Checks: []web.Check{
					{Name: "catalog", Ping: a.db.Ping},
					{Name: "actors", Ping: a.backend.Ping},
				},
			}
			werr := web.Start(ctx, a.cfg.OpsAddr, ws.Routes(), a.log)
			cancel()

			if herr := <-hostDone; herr != nil && !errors.Is(herr, context.Canceled) {
				return herr
			}
			a.log.Info("server stopped")
			return werr
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
