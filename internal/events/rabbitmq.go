package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName     = "deaddrop.events"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
	dialTimeout      = 5 * time.Second
	// maxReconnectAttempts caps redials per call, so a caller without a deadline still returns.
	maxReconnectAttempts = 5
)

var _ Publisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher publishes events to a durable topic exchange, routed by event type.
type RabbitMQPublisher struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewRabbitMQPublisher(url string) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQPublisher{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQPublisher) Publish(ctx context.Context, event NoteEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx,
		ExchangeName,
		event.Type.String(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    event.At,
			Type:         event.Type.String(),
			Headers:      amqp.Table{"noteId": event.NoteID},
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s for note %s: %w", event.Type, event.NoteID, err)
	}
	return nil
}

func (r *RabbitMQPublisher) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", ExchangeName, err)
	}

	return ch, nil
}

func (r *RabbitMQPublisher) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQPublisher) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rabbitmq reconnect canceled: %w", err)
		}

		newConn, err := amqp.DialConfig(r.url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(r.dialTimeout(ctx)),
		})
		if err == nil {
			r.mu.Lock()
			r.conn = newConn
			r.mu.Unlock()
			return nil
		}
		lastErr = err

		if attempt == maxReconnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = min(wait*2, maxBackoff)
	}
	return fmt.Errorf("rabbitmq unreachable after %d attempts: %w", maxReconnectAttempts, lastErr)
}

// dialTimeout shrinks the per-dial timeout to the caller's remaining deadline.
func (r *RabbitMQPublisher) dialTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return dialTimeout
	}
	return max(min(time.Until(deadline), dialTimeout), time.Millisecond)
}
