package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/generation-pipeline/internal/api/server"
	"github.com/aliskhannn/generation-pipeline/internal/app"
)

func newServeCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run workers, the HTTP API and the dead-letter archiver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Pipeline.Start(ctx); err != nil {
				return err
			}

			s := server.New(":"+cfg.Server.HTTPPort, a.Handler)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				zlog.Logger.Info().Str("addr", s.Addr).Msg("starting server")
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			if a.Archiver != nil {
				g.Go(func() error {
					return a.Archiver.Consume(gctx)
				})
			}

			g.Go(func() error {
				<-gctx.Done()
				zlog.Logger.Info().Msg("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
				defer cancel()

				if err := s.Shutdown(shutdownCtx); err != nil {
					zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
				}

				if err := a.Pipeline.Close(context.WithoutCancel(ctx)); err != nil {
					zlog.Logger.Error().Err(err).Msg("failed to drain pipeline")
				}

				return nil
			})

			return g.Wait()
		},
	}
}
