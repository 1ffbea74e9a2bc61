package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/deaddrop/internal/handler"
	infraredis "github.com/kursadbilgin/deaddrop/internal/infra/redis"
	"github.com/kursadbilgin/deaddrop/internal/sink"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sink",
		Short: "Run the reference webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rdb, err := infraredis.NewRedis(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis initialization failed: %w", err)
			}
			defer rdb.Close()

			h, err := sink.NewHandler(rdb, sink.Config{Fail: cfg.SinkFail}, logger.Named("sink"))
			if err != nil {
				return err
			}

			app := newFiberApp(logger)
			if err := handler.RegisterHealthRoutes(app, nil); err != nil {
				return err
			}
			h.Register(app)

			logger.Info("sink started", zap.Bool("failMode", cfg.SinkFail))
			return serve(ctx, app, cfg.SinkPort, logger)
		},
	}
}
