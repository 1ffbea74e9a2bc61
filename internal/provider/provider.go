package provider

import (
	"context"
	"time"
)

// OutcomeKind classifies a single delivery attempt.
type OutcomeKind int

const (
	// OutcomeSuccess means a 2xx response was received.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRejected means a non-2xx response was received.
	OutcomeRejected
	// OutcomeUnreachable means no response was received (connection, DNS, timeout).
	OutcomeUnreachable
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnreachable:
		return "unreachable"
	}
	return "unknown"
}

// Outcome is the classified result of one outbound call.
// StatusCode is 0 when no response was received.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Err        error
}

func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// Delivery is everything the executor needs to perform one attempt.
type Delivery struct {
	NoteID         string
	Title          string
	Body           string
	ReleaseAt      time.Time
	WebhookURL     string
	IdempotencyKey string
}

// Executor performs exactly one delivery attempt. Retrying is the caller's job.
type Executor interface {
	Execute(ctx context.Context, d Delivery) Outcome
}
