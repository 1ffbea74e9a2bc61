package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Status represents the delivery state of a note.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed, StatusDead:
		return true
	}
	return false
}

// IsReplayable reports whether an operator replay may move the note back to pending.
// failed and dead are treated as one terminal, replayable class.
func (s Status) IsReplayable() bool {
	return s == StatusFailed || s == StatusDead
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransition reports whether the note state machine allows from -> to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusDelivered || to == StatusDead
	case StatusFailed, StatusDead:
		return to == StatusPending
	}
	return false
}

const MaxTitleLength = 200

// Attempt is an immutable record of one delivery try.
type Attempt struct {
	At         time.Time
	StatusCode int
	OK         bool
	Error      *string
}

// Note is a payload scheduled for delivery to a webhook at or after ReleaseAt.
type Note struct {
	ID          string
	Title       string
	Body        string
	ReleaseAt   time.Time
	WebhookURL  string
	Status      Status
	Attempts    []Attempt
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (n *Note) Validate() error {
	titleLen := len([]rune(n.Title))
	if titleLen == 0 {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if titleLen > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxTitleLength, titleLen)
	}
	if n.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if n.ReleaseAt.IsZero() {
		return fmt.Errorf("%w: releaseAt is required", ErrValidation)
	}
	if err := ValidateWebhookURL(n.WebhookURL); err != nil {
		return err
	}
	return nil
}

func ValidateWebhookURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: webhookUrl is required", ErrValidation)
	}
	u, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%w: invalid webhookUrl: %v", ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: webhookUrl must use http or https", ErrValidation)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: webhookUrl host is required", ErrValidation)
	}
	return nil
}

// RecordAttempt appends a to the history. A successful attempt moves the note to delivered.
func (n *Note) RecordAttempt(a Attempt) error {
	if n.Status != StatusPending {
		return fmt.Errorf("%w: cannot record attempt on %s note", ErrInvalidTransition, n.Status)
	}

	n.Attempts = append(n.Attempts, a)
	if a.OK {
		at := a.At
		n.Status = StatusDelivered
		n.DeliveredAt = &at
	}
	return nil
}

func (n *Note) MarkDead() error {
	if !CanTransition(n.Status, StatusDead) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, StatusDead)
	}
	n.Status = StatusDead
	return nil
}

// Replay resets a failed/dead note to pending with a fresh release time. Attempts are kept.
func (n *Note) Replay(now time.Time) error {
	if !n.Status.IsReplayable() {
		return fmt.Errorf("%w: status is %s", ErrNotReplayable, n.Status)
	}
	n.Status = StatusPending
	n.ReleaseAt = now
	return nil
}

// IsDue reports whether the note is pending and its release time has passed.
func (n *Note) IsDue(now time.Time) bool {
	return n.Status == StatusPending && !n.ReleaseAt.After(now)
}
