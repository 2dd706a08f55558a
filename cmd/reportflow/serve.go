package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/runtime"
	"github.com/mohammad-safakhou/reportflow/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, *cfgPath, appOptions{service: "api", needRedis: true})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := shutdownContext()
				defer cancel()
				a.Close(sctx)
			}()

			secret, err := runtime.LoadJWTSecret(a.cfg)
			if err != nil && !errors.Is(err, runtime.ErrNoSecret) {
				return err
			}
			pub, err := a.publisher()
			if err != nil {
				return err
			}
			srv, err := server.New(server.Options{
				Threads:      a.threads,
				Documents:    a.documents,
				Publisher:    pub,
				ThreadStream: a.cfg.Streams.Threads,
				JWTSecret:    secret,
				Metrics:      a.tel.MetricsHandler(),
				Logger:       log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
			})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			return srv.Run(ctx, addr)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return serve
}

// shutdownContext bounds cleanup after the command context is gone.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}
