package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/service/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the history and maintenance HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			httpCfg := a.cfg.HTTP
			if cmd.Flags().Changed("addr") {
				httpCfg.BindAddr = serveAddr
			}

			a.logger.Info("starting dupecache",
				zap.String("version", version),
				zap.String("cache", a.cfg.CachePath()),
				zap.String("history", a.cfg.HistoryPath()))
			if httpCfg.AdminPassword == "" {
				a.logger.Warn("admin password not set, maintenance endpoints are unauthenticated")
			}

			srv := server.New(&server.Config{
				BindAddr:      httpCfg.BindAddr,
				AdminUsername: httpCfg.AdminUsername,
				AdminPassword: httpCfg.AdminPassword,
				ReadTimeout:   httpCfg.GetReadTimeout(),
				WriteTimeout:  httpCfg.GetWriteTimeout(),
				IdleTimeout:   httpCfg.GetIdleTimeout(),
			}, a.audit(), a.maintenance(), a.logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					a.logger.Error("HTTP server error", zap.Error(err))
				}
				return err
			case <-cmd.Context().Done():
				a.logger.Info("received shutdown signal")
			}

			// Graceful shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := srv.Stop(shutdownCtx); err != nil {
				a.logger.Error("failed to stop HTTP server", zap.Error(err))
				return err
			}
			a.logger.Info("dupecache stopped")
			return nil
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: http.bind_addr)")
	rootCmd.AddCommand(serveCmd)
}
