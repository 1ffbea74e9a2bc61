// Package sink is a reference webhook receiver that deduplicates deliveries by idempotency key.
package sink

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/deaddrop/internal/provider"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "sink:idem:"
	// DedupeTTL is how long a seen idempotency key suppresses duplicates.
	DedupeTTL = 24 * time.Hour
)

type Config struct {
	// Fail makes every delivery answer 500, for exercising the retry path.
	Fail bool
}

type Handler struct {
	rdb    *redis.Client
	cfg    Config
	logger *zap.Logger
}

func NewHandler(rdb *redis.Client, cfg Config, logger *zap.Logger) (*Handler, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rdb: rdb, cfg: cfg, logger: logger}, nil
}

func (h *Handler) Register(router fiber.Router) {
	router.Post("/sink", h.Receive)
}

// Receive accepts a delivery once per idempotency key. Repeats answer 200 with duplicate=true.
func (h *Handler) Receive(c *fiber.Ctx) error {
	if h.cfg.Fail {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Sink configured to fail"})
	}

	key := strings.TrimSpace(c.Get(provider.HeaderIdempotencyKey))
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing " + provider.HeaderIdempotencyKey})
	}

	first, err := h.markSeen(c.UserContext(), key)
	if err != nil {
		return err
	}
	if !first {
		h.logger.Info("duplicate delivery suppressed", zap.String("idempotencyKey", key))
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	h.logger.Info("sink received",
		zap.String("noteId", c.Get(provider.HeaderNoteID)),
		zap.String("idempotencyKey", key),
		zap.ByteString("body", c.Body()),
	)
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) markSeen(ctx context.Context, key string) (bool, error) {
	ok, err := h.rdb.SetNX(ctx, keyPrefix+key, "1", DedupeTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
