package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver, reminder scheduler and invitation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:              cfg.Server.Address,
				Handler:           a.handler,
				ReadHeaderTimeout: 5 * time.Second,
			}

			logger.Info("messaging app starting",
				"addr", cfg.Server.Address,
				"db_driver", cfg.Database.Driver,
				"reminder_interval", cfg.Reminder.Interval.String(),
				"redis", cfg.Redis.Enabled,
				"amqp", cfg.Events.Enabled,
			)

			if !noScheduler {
				a.sched.Start()
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return a.invites.Run(gctx)
			})

			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				a.sched.Stop()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "start with the reminder scheduler stopped")

	return cmd
}
