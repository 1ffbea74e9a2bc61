package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	writeFn func(ctx context.Context, msgs ...kafka.Message) error
	closed  bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.writeFn == nil {
		return nil
	}
	return f.writeFn(ctx, msgs...)
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherPublish(t *testing.T) {
	t.Parallel()

	var got []kafka.Message
	writer := &fakeWriter{
		writeFn: func(ctx context.Context, msgs ...kafka.Message) error {
			got = append(got, msgs...)
			return nil
		},
	}
	publisher := newKafkaPublisher(writer, "deaddrop.note-events")

	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	event := NoteEvent{Type: EventDead, NoteID: "n1", Attempts: 4, At: at}
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("messages = %d, want 1", len(got))
	}
	if string(got[0].Key) != "n1" {
		t.Fatalf("key = %q, want n1", got[0].Key)
	}
	if len(got[0].Headers) != 1 || string(got[0].Headers[0].Value) != "note.dead" {
		t.Fatalf("headers = %+v, want type=note.dead", got[0].Headers)
	}

	var decoded NoteEvent
	if err := json.Unmarshal(got[0].Value, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded.Type != EventDead || decoded.NoteID != "n1" || decoded.Attempts != 4 || !decoded.At.Equal(at) {
		t.Fatalf("decoded = %+v, want %+v", decoded, event)
	}

	if err := publisher.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !writer.closed {
		t.Fatal("Close() should close the writer")
	}
}

func TestKafkaPublisherPublishError(t *testing.T) {
	t.Parallel()

	writeErr := errors.New("broker unavailable")
	publisher := newKafkaPublisher(&fakeWriter{
		writeFn: func(ctx context.Context, msgs ...kafka.Message) error { return writeErr },
	}, "topic")

	err := publisher.Publish(context.Background(), NoteEvent{Type: EventDelivered, NoteID: "n1"})
	if !errors.Is(err, writeErr) {
		t.Fatalf("Publish() error = %v, want %v", err, writeErr)
	}
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(nil, "topic"); err == nil {
		t.Fatal("expected error for missing brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, " "); err == nil {
		t.Fatal("expected error for missing topic")
	}

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "topic")
	if err != nil {
		t.Fatalf("NewKafkaPublisher() error = %v", err)
	}
	_ = p.Close()
}

func TestNewRabbitMQPublisherRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRabbitMQPublisher("  "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), NoteEvent{Type: EventReplayed}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
