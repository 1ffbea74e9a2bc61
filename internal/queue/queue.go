package queue

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost is returned when an obligation's lease expired and was reclaimed
// (or already settled) before its holder reported back.
var ErrLeaseLost = errors.New("lease lost")

// Lease grants exclusive ownership of one note's delivery obligation until Deadline.
type Lease struct {
	NoteID string
	Token  string
	// Attempts is the number of attempts already made for this obligation.
	Attempts int
	// Exhausted is set when no attempts remain, which happens when the obligation is
	// redelivered after its exhaustion handler failed. Such a lease must go to Exhaust.
	Exhausted bool
	Deadline  time.Time
}

// Decision is the outcome of reporting a failed attempt.
type Decision struct {
	Attempts  int
	Exhausted bool
	// Delay before the obligation becomes visible again. Zero when exhausted.
	Delay time.Duration
}

// ExhaustedFunc runs before an exhausted obligation is discarded. If it fails the
// obligation stays leased and is redelivered after the visibility timeout.
type ExhaustedFunc func(ctx context.Context, noteID string, attempts int) error

// Scheduler is a durable at-least-once work queue of delivery obligations keyed by note id.
type Scheduler interface {
	// Enqueue admits an obligation for immediate attempt. It reports false when the
	// note already has an obligation waiting or in flight.
	Enqueue(ctx context.Context, noteID string) (bool, error)
	// Dequeue leases the next visible obligation, or returns nil when none is visible.
	Dequeue(ctx context.Context) (*Lease, error)
	// Ack settles a successful (or moot) obligation.
	Ack(ctx context.Context, lease *Lease) error
	// Fail records a failed attempt and either schedules a retry or exhausts the obligation.
	Fail(ctx context.Context, lease *Lease, onExhausted ExhaustedFunc) (Decision, error)
	// Exhaust discards a lease that arrived with Exhausted set, without a new attempt.
	Exhaust(ctx context.Context, lease *Lease, onExhausted ExhaustedFunc) (Decision, error)
	// Reclaim makes obligations with expired leases visible again.
	Reclaim(ctx context.Context) (int, error)
}
