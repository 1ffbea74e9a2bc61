package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/deaddrop/internal/handler"
	infraredis "github.com/kursadbilgin/deaddrop/internal/infra/redis"
	"github.com/kursadbilgin/deaddrop/internal/observability"
	"github.com/kursadbilgin/deaddrop/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the note HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := openDeps(cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			publisher, err := newPublisher(cfg)
			if err != nil {
				return fmt.Errorf("events publisher initialization failed: %w", err)
			}
			defer publisher.Close() //nolint:errcheck

			metrics := observability.NewMetrics()

			notes, err := service.NewNoteService(d.notes, d.scheduler, publisher, logger.Named("notes"))
			if err != nil {
				return err
			}
			notes.SetMetrics(metrics)

			limiter, err := infraredis.NewRedisRateLimiter(d.rdb, cfg.RateLimitPerMin)
			if err != nil {
				return err
			}

			app := newFiberApp(logger)
			app.Use(handler.RequestID(), metrics.HTTPMiddleware())
			if err := handler.RegisterHealthRoutes(app, d.readinessChecks()); err != nil {
				return err
			}
			handler.RegisterMetricsRoute(app, metrics)

			api := app.Group("/api",
				handler.RateLimit(limiter, logger),
				handler.BearerAuth(cfg.AdminToken),
			)
			if err := handler.RegisterNoteRoutes(api, notes); err != nil {
				return err
			}
			if err := handler.RegisterQueueRoutes(api, d.scheduler); err != nil {
				return err
			}

			if cfg.AdminToken == "" {
				logger.Warn("ADMIN_TOKEN is empty, /api is unauthenticated")
			}
			logger.Info("deaddrop api started",
				zap.Int64("rateLimitPerMin", limiter.Limit()),
				zap.String("eventsDriver", cfg.EventsDriverName()),
			)
			return serve(ctx, app, cfg.APIPort, logger)
		},
	}
}
