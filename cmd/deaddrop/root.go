package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/deaddrop/internal/config"
	"github.com/kursadbilgin/deaddrop/internal/events"
	"github.com/kursadbilgin/deaddrop/internal/observability"
	"github.com/kursadbilgin/deaddrop/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "deaddrop",
		Short:        "Scheduled note delivery to webhooks",
		SilenceUsage: true,
	}

	root.AddCommand(
		newAPICmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newSinkCmd(),
	)
	return root
}

// bootstrap loads configuration and builds the process logger.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.EventsDriverName() {
	case config.EventsDriverAMQP:
		return events.NewRabbitMQPublisher(cfg.RabbitMQURL)
	case config.EventsDriverKafka:
		return events.NewKafkaPublisher(cfg.KafkaBrokerList(), cfg.KafkaTopic)
	default:
		return events.NopPublisher{}, nil
	}
}

func newFiberApp(logger *zap.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
}

// serve runs app until ctx is canceled, then shuts it down gracefully.
func serve(ctx context.Context, app *fiber.App, port int, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()
	logger.Info("http server listening", zap.Int("port", port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
