package ratelimit

import "context"

// RateLimiter admits or rejects requests per client key within a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
