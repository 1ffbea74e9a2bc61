package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/deaddrop/internal/handler"
	"github.com/kursadbilgin/deaddrop/internal/observability"
	"github.com/kursadbilgin/deaddrop/internal/provider"
	"github.com/kursadbilgin/deaddrop/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the poller and delivery workers",
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

			poller, err := service.NewPoller(d.notes, d.scheduler, cfg.PollInterval(), cfg.PollBatchSize, logger.Named("poller"))
			if err != nil {
				return err
			}
			poller.SetMetrics(metrics)

			worker, err := service.NewDeliveryWorker(
				d.notes,
				d.scheduler,
				provider.NewWebhookExecutor(cfg.AttemptTimeout()),
				publisher,
				service.DeliveryWorkerConfig{
					Concurrency:  cfg.WorkerConcurrency,
					IdleWait:     cfg.WorkerIdleWait(),
					ReapInterval: cfg.ReapInterval(),
				},
				logger.Named("worker"),
			)
			if err != nil {
				return err
			}
			worker.SetMetrics(metrics)

			app := newFiberApp(logger)
			if err := handler.RegisterHealthRoutes(app, d.readinessChecks()); err != nil {
				return err
			}
			handler.RegisterMetricsRoute(app, metrics)

			logger.Info("deaddrop worker started",
				zap.String("queue", cfg.QueueName),
				zap.Int("concurrency", cfg.WorkerConcurrency),
				zap.Duration("attemptTimeout", cfg.AttemptTimeout()),
				zap.Duration("visibilityTimeout", cfg.VisibilityTimeout()),
			)

			g, groupCtx := errgroup.WithContext(ctx)
			g.Go(func() error { return poller.Start(groupCtx) })
			g.Go(func() error { return worker.Start(groupCtx) })
			g.Go(func() error { return serve(groupCtx, app, cfg.MetricsPort, logger) })

			err = g.Wait()
			logger.Info("deaddrop worker stopped")
			return err
		},
	}
}
