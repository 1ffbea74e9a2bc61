package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "dead", want: StatusDead},
		{name: "valid uppercase with spaces", input: " PENDING ", want: StatusPending},
		{name: "failed is accepted", input: "failed", want: StatusFailed},
		{name: "invalid", input: "sent", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusDelivered, true},
		{StatusPending, StatusPending, true},
		{StatusPending, StatusDead, true},
		{StatusDead, StatusPending, true},
		{StatusFailed, StatusPending, true},
		{StatusDelivered, StatusPending, false},
		{StatusDelivered, StatusDead, false},
		{StatusDead, StatusDelivered, false},
		{StatusPending, StatusFailed, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNoteValidate(t *testing.T) {
	t.Parallel()

	base := Note{
		Title:      "hello",
		Body:       "world",
		ReleaseAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		WebhookURL: "https://example.com/hook",
	}

	tests := []struct {
		name    string
		mutate  func(*Note)
		wantErr bool
	}{
		{
			name:   "valid note",
			mutate: func(n *Note) {},
		},
		{
			name:    "missing title",
			mutate:  func(n *Note) { n.Title = "" },
			wantErr: true,
		},
		{
			name:    "title over limit",
			mutate:  func(n *Note) { n.Title = strings.Repeat("a", MaxTitleLength+1) },
			wantErr: true,
		},
		{
			name:   "rune-aware title length accepted",
			mutate: func(n *Note) { n.Title = strings.Repeat("ğ", MaxTitleLength) },
		},
		{
			name:    "missing body",
			mutate:  func(n *Note) { n.Body = "" },
			wantErr: true,
		},
		{
			name:    "missing release time",
			mutate:  func(n *Note) { n.ReleaseAt = time.Time{} },
			wantErr: true,
		},
		{
			name:    "relative webhook url",
			mutate:  func(n *Note) { n.WebhookURL = "/hook" },
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			mutate:  func(n *Note) { n.WebhookURL = "ftp://example.com/hook" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestNoteRecordAttempt(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)
	n := &Note{ID: "n1", Status: StatusPending}

	if err := n.RecordAttempt(Attempt{At: at, StatusCode: 500}); err != nil {
		t.Fatalf("RecordAttempt() unexpected error = %v", err)
	}
	if n.Status != StatusPending {
		t.Fatalf("status = %s, want pending", n.Status)
	}
	if n.DeliveredAt != nil {
		t.Fatal("deliveredAt should stay unset after a failed attempt")
	}

	okAt := at.Add(time.Second)
	if err := n.RecordAttempt(Attempt{At: okAt, StatusCode: 200, OK: true}); err != nil {
		t.Fatalf("RecordAttempt() unexpected error = %v", err)
	}
	if n.Status != StatusDelivered {
		t.Fatalf("status = %s, want delivered", n.Status)
	}
	if n.DeliveredAt == nil || !n.DeliveredAt.Equal(okAt) {
		t.Fatalf("deliveredAt = %v, want %v", n.DeliveredAt, okAt)
	}
	if len(n.Attempts) != 2 || n.Attempts[0].StatusCode != 500 || !n.Attempts[1].OK {
		t.Fatalf("attempts = %+v, want [500, 200 ok]", n.Attempts)
	}

	err := n.RecordAttempt(Attempt{At: okAt, StatusCode: 200, OK: true})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("RecordAttempt() on delivered error = %v, want ErrInvalidTransition", err)
	}
	if len(n.Attempts) != 2 {
		t.Fatalf("attempts len = %d, want 2", len(n.Attempts))
	}
}

func TestNoteMarkDead(t *testing.T) {
	t.Parallel()

	n := &Note{Status: StatusPending}
	if err := n.MarkDead(); err != nil {
		t.Fatalf("MarkDead() unexpected error = %v", err)
	}
	if n.Status != StatusDead {
		t.Fatalf("status = %s, want dead", n.Status)
	}

	delivered := &Note{Status: StatusDelivered}
	if err := delivered.MarkDead(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkDead() on delivered error = %v, want ErrInvalidTransition", err)
	}
}

func TestNoteReplay(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	history := []Attempt{{StatusCode: 500}, {StatusCode: 0}}

	for _, status := range []Status{StatusDead, StatusFailed} {
		n := &Note{Status: status, ReleaseAt: now.Add(-time.Hour), Attempts: history}
		if err := n.Replay(now); err != nil {
			t.Fatalf("Replay(%s) unexpected error = %v", status, err)
		}
		if n.Status != StatusPending {
			t.Fatalf("status = %s, want pending", n.Status)
		}
		if !n.ReleaseAt.Equal(now) {
			t.Fatalf("releaseAt = %v, want %v", n.ReleaseAt, now)
		}
		if len(n.Attempts) != len(history) {
			t.Fatalf("attempts len = %d, want %d", len(n.Attempts), len(history))
		}
	}

	for _, status := range []Status{StatusPending, StatusDelivered} {
		original := now.Add(-time.Hour)
		n := &Note{Status: status, ReleaseAt: original}
		if err := n.Replay(now); !errors.Is(err, ErrNotReplayable) {
			t.Fatalf("Replay(%s) error = %v, want ErrNotReplayable", status, err)
		}
		if n.Status != status || !n.ReleaseAt.Equal(original) {
			t.Fatalf("Replay(%s) mutated note: status=%s releaseAt=%v", status, n.Status, n.ReleaseAt)
		}
	}
}

func TestNoteIsDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	if !(&Note{Status: StatusPending, ReleaseAt: now}).IsDue(now) {
		t.Fatal("note released exactly now should be due")
	}
	if (&Note{Status: StatusPending, ReleaseAt: now.Add(time.Second)}).IsDue(now) {
		t.Fatal("future note should not be due")
	}
	if (&Note{Status: StatusDead, ReleaseAt: now.Add(-time.Second)}).IsDue(now) {
		t.Fatal("dead note should not be due")
	}
}
