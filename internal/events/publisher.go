// Package events fans processed delivery events out to downstream
// consumers over SQS. Publishing is fire-and-forget: analytics lag must
// never slow down or fail the ingestion path.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/email-relay/internal/domain"
	"github.com/ignite/email-relay/internal/pkg/logger"
)

// SQSAPI is the slice of the SQS client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeliveryEvent is the downstream-facing record for one processed webhook.
type DeliveryEvent struct {
	Provider   domain.ProviderType     `json:"provider"`
	EventType  domain.WebhookEventType `json:"event_type"`
	MessageID  string                  `json:"message_id"`
	Email      string                  `json:"email,omitempty"`
	BounceType domain.BounceType       `json:"bounce_type,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
	EventAt    time.Time               `json:"event_at"`
}

// Publisher pushes delivery events onto an SQS queue. A nil Publisher or
// one built without a queue URL publishes nothing, so callers never need
// to branch on whether fan-out is configured.
type Publisher struct {
	client   SQSAPI
	queueURL string
}

// NewPublisher creates an SQS publisher. Returns nil when queueURL is
// empty, disabling fan-out.
func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	if queueURL == "" || client == nil {
		return nil
	}
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish sends the event asynchronously. Failures are logged, never
// returned: the event log row is the durable source of truth.
func (p *Publisher) Publish(ctx context.Context, ev *domain.WebhookEvent) {
	if p == nil {
		return
	}

	body, err := json.Marshal(DeliveryEvent{
		Provider:   ev.Provider,
		EventType:  ev.EventType,
		MessageID:  ev.MessageID,
		Email:      ev.Email,
		BounceType: ev.BounceType,
		Reason:     ev.Reason,
		EventAt:    ev.EventAt,
	})
	if err != nil {
		logger.Error("marshal delivery event", "error", err.Error())
		return
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(sendCtx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publish delivery event to SQS",
				"message_id", ev.MessageID, "error", err.Error())
		}
	}()
}
