package events

import (
	"context"
	"time"
)

type EventType string

const (
	EventDelivered EventType = "note.delivered"
	EventDead      EventType = "note.dead"
	EventReplayed  EventType = "note.replayed"
)

func (t EventType) String() string { return string(t) }

// NoteEvent announces a terminal transition or an operator replay.
type NoteEvent struct {
	Type     EventType `json:"type"`
	NoteID   string    `json:"noteId"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// Publisher delivers note lifecycle events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, event NoteEvent) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, NoteEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
