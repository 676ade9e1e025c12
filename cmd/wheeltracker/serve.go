package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/dashboard"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if port != 0 {
					a.cfg.Dashboard.Port = port
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runServe(ctx, a)
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Override dashboard.port")
	return cmd
}

// runServe serves until ctx is done, then shuts the server down gracefully.
func runServe(ctx context.Context, a *app) error {
	srv := dashboard.NewServer(dashboard.Config{
		Port:      a.cfg.Dashboard.Port,
		AuthToken: a.cfg.Dashboard.AuthToken,
	}, a.engine, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down dashboard server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
