package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultAttemptTimeout = 10 * time.Second

	HeaderNoteID         = "X-Note-Id"
	HeaderIdempotencyKey = "X-Idempotency-Key"

	maxErrorBodyLength = 256
)

type webhookRequest struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ReleaseAt time.Time `json:"releaseAt"`
}

var _ Executor = (*WebhookExecutor)(nil)

// WebhookExecutor posts notes to their webhook URL.
type WebhookExecutor struct {
	client *resty.Client
}

func NewWebhookExecutor(timeout time.Duration) *WebhookExecutor {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)

	// NewWebhookExecutorWithClient only errors on a nil client.
	executor, _ := NewWebhookExecutorWithClient(client)
	return executor
}

func NewWebhookExecutorWithClient(client *resty.Client) (*WebhookExecutor, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(DefaultAttemptTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookExecutor{client: client}, nil
}

func (e *WebhookExecutor) Execute(ctx context.Context, d Delivery) Outcome {
	if e == nil || e.client == nil {
		return unreachable(fmt.Errorf("executor is not initialized"))
	}

	reqBody := webhookRequest{
		ID:        d.NoteID,
		Title:     d.Title,
		Body:      d.Body,
		ReleaseAt: d.ReleaseAt.UTC(),
	}

	response, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderNoteID, d.NoteID).
		SetHeader(HeaderIdempotencyKey, d.IdempotencyKey).
		SetBody(reqBody).
		Post(d.WebhookURL)
	if err != nil {
		return unreachable(err)
	}
	if response == nil {
		return unreachable(fmt.Errorf("empty response"))
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return Outcome{Kind: OutcomeSuccess, StatusCode: statusCode}
	}

	return Outcome{
		Kind:       OutcomeRejected,
		StatusCode: statusCode,
		Err: &DeliveryError{
			Kind:       OutcomeRejected,
			StatusCode: statusCode,
			Message:    rejectedMessage(strings.TrimSpace(response.String())),
		},
	}
}

func unreachable(cause error) Outcome {
	return Outcome{
		Kind: OutcomeUnreachable,
		Err: &DeliveryError{
			Kind:  OutcomeUnreachable,
			Cause: cause,
		},
	}
}

// rejectedMessage keeps a bounded prefix of the receiver's response body.
func rejectedMessage(body string) string {
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength]
	}
	return body
}
