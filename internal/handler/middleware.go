package handler

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/deaddrop/internal/observability"
	"github.com/kursadbilgin/deaddrop/internal/ratelimit"
	"go.uber.org/zap"
)

const maxRequestIDLength = 128

// RequestID propagates X-Request-ID (generating one when absent) into the response header
// and the request's user context.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := strings.TrimSpace(c.Get(observability.HeaderRequestID))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}

		c.Set(observability.HeaderRequestID, requestID)
		c.SetUserContext(observability.WithRequestID(c.UserContext(), requestID))
		return c.Next()
	}
}

// BearerAuth guards routes with a static admin token. An empty token disables the check.
func BearerAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}

		header := c.Get(fiber.HeaderAuthorization)
		presented, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(presented) == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
			return fiber.NewError(fiber.StatusForbidden, "Forbidden")
		}
		return c.Next()
	}
}

// RateLimit admits requests per client IP. Limiter errors fail open.
func RateLimit(limiter ratelimit.RateLimiter, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		allowed, err := limiter.Allow(c.UserContext(), c.IP())
		if err != nil {
			observability.WithContextLogger(logger, c.UserContext()).Warn("rate limiter unavailable",
				zap.String("ip", c.IP()),
				zap.Error(err),
			)
			return c.Next()
		}
		if !allowed {
			return fiber.NewError(fiber.StatusTooManyRequests, "Too many requests")
		}
		return c.Next()
	}
}
