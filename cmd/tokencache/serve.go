package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencache/internal/app"
	apphttp "github.com/dropDatabas3/tokencache/internal/http"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta la app web (sign-in OIDC, /api/me, /metrics)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			c, err := app.New(ctx, cfg, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.L().Warn("cleanup failed", logger.Err(err))
				}
			}()

			h, err := c.Handler(ctx)
			if err != nil {
				return err
			}
			logger.L().Info("tokencache ready",
				logger.Authority(cfg.Identity.Authority),
				logger.ClientID(cfg.Identity.ClientID),
				logger.String("storage_driver", cfg.Storage.Driver),
				logger.String("session_kind", cfg.Session.Kind),
			)
			return apphttp.Serve(ctx, apphttp.ServerConfig{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				IdleTimeout:     cfg.Server.IdleTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, h, nil)
		},
	}
}
