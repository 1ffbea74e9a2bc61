package provider

import (
	"fmt"
	"strings"
)

// DeliveryError describes why an attempt was not a success. StatusCode is 0 for
// OutcomeUnreachable.
type DeliveryError struct {
	Kind       OutcomeKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("webhook ")
	b.WriteString(e.Kind.String())
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
