package backoff

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid backoff policy")

// Policy maps the number of attempts already made to the delay before the next one.
// The first try is immediate; each configured delay buys one more try.
type Policy struct {
	delays []time.Duration
}

func New(delays []time.Duration) (*Policy, error) {
	if len(delays) == 0 {
		return nil, fmt.Errorf("%w: at least one delay is required", ErrInvalidPolicy)
	}
	for i, d := range delays {
		if d <= 0 {
			return nil, fmt.Errorf("%w: delay #%d must be positive (got %s)", ErrInvalidPolicy, i+1, d)
		}
	}

	copied := make([]time.Duration, len(delays))
	copy(copied, delays)
	return &Policy{delays: copied}, nil
}

// ParseMillis parses a comma separated list of millisecond delays, e.g. "1000,5000,25000".
// Empty entries are rejected since each delay is one permitted retry.
func ParseMillis(raw string) ([]time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: no delays in %q", ErrInvalidPolicy, raw)
	}
	parts := strings.Split(raw, ",")
	delays := make([]time.Duration, 0, len(parts))
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: empty delay at position %d in %q", ErrInvalidPolicy, i+1, raw)
		}
		ms, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer millisecond value", ErrInvalidPolicy, trimmed)
		}
		delays = append(delays, time.Duration(ms)*time.Millisecond)
	}
	return delays, nil
}

// MaxAttempts is the total number of permitted tries.
func (p *Policy) MaxAttempts() int {
	return len(p.delays) + 1
}

// Delay returns the wait before the next try given the 1-based count of tries already made.
func (p *Policy) Delay(attemptsMade int) time.Duration {
	idx := min(max(attemptsMade-1, 0), len(p.delays)-1)
	return p.delays[idx]
}

// Exhausted reports whether no tries remain after attemptsMade failures.
func (p *Policy) Exhausted(attemptsMade int) bool {
	return attemptsMade >= p.MaxAttempts()
}

func (p *Policy) Delays() []time.Duration {
	out := make([]time.Duration, len(p.delays))
	copy(out, p.delays)
	return out
}
