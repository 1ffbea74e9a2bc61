package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 1000
)

// QueueInspector exposes the scheduler's operator view.
type QueueInspector interface {
	Depth(ctx context.Context) (ready int64, inflight int64, err error)
	DeadLetters(ctx context.Context, limit int) ([]string, error)
}

type queueResponse struct {
	Ready       int64    `json:"ready"`
	InFlight    int64    `json:"inflight"`
	DeadLetters []string `json:"deadLetters"`
}

func RegisterQueueRoutes(router fiber.Router, inspector QueueInspector) error {
	if router == nil {
		return errors.New("router is required")
	}
	if inspector == nil {
		return errors.New("queue inspector is required")
	}

	router.Get("/queue", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultDeadLetterLimit)
		if limit < 1 || limit > maxDeadLetterLimit {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 1000")
		}

		ready, inflight, err := inspector.Depth(c.UserContext())
		if err != nil {
			return err
		}
		dead, err := inspector.DeadLetters(c.UserContext(), limit)
		if err != nil {
			return err
		}
		if dead == nil {
			dead = []string{}
		}

		return c.JSON(queueResponse{Ready: ready, InFlight: inflight, DeadLetters: dead})
	})
	return nil
}
