package handler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/deaddrop/internal/observability"
)

const readinessTimeout = 2 * time.Second

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

func RegisterHealthRoutes(app fiber.Router, checks map[string]Check) error {
	if app == nil {
		return errors.New("router is required")
	}

	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks))
	return nil
}

func RegisterMetricsRoute(app fiber.Router, metrics *observability.Metrics) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler runs every check under one shared timeout and answers 503 if any fails.
func ReadyzHandler(checks map[string]Check) fiber.Handler {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		results := fiber.Map{}
		ready := true
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = "down"
				ready = false
				continue
			}
			results[name] = "ok"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
