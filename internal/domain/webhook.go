package domain

import "time"

// WebhookEventType enumerates the provider event types this relay understands.
// Providers use slightly different spellings (delivery/delivered, open/opened);
// normalization maps them onto these canonical values.
type WebhookEventType string

const (
	EventDelivered   WebhookEventType = "delivered"
	EventOpened      WebhookEventType = "opened"
	EventClicked     WebhookEventType = "clicked"
	EventBounced     WebhookEventType = "bounced"
	EventSpam        WebhookEventType = "spam"
	EventUnsubscribe WebhookEventType = "unsubscribed"
	EventUnknown     WebhookEventType = "unknown"
)

// WebhookEvent is one durably-logged provider notification. The tuple
// (Provider, EventType, MessageID, PayloadHash) is the dedup key: a repeat
// sighting increments DuplicateCount on the existing row instead of
// inserting a new one. Rows are only removed by retention cleanup.
type WebhookEvent struct {
	ID             string           `json:"id" db:"id"`
	Provider       ProviderType     `json:"provider" db:"provider"`
	EventType      WebhookEventType `json:"event_type" db:"event_type"`
	MessageID      string           `json:"message_id" db:"message_id"`
	Email          string           `json:"email" db:"email"`
	Payload        []byte           `json:"-" db:"payload"`
	PayloadHash    string           `json:"payload_hash" db:"payload_hash"`
	Signature      string           `json:"signature,omitempty" db:"signature"`
	BounceType     BounceType       `json:"bounce_type,omitempty" db:"bounce_type"`
	Reason         string           `json:"reason,omitempty" db:"reason"`
	ReceivedAt     time.Time        `json:"received_at" db:"received_at"`
	EventAt        time.Time        `json:"event_at" db:"event_at"`
	Processed      bool             `json:"processed" db:"processed"`
	DuplicateCount int              `json:"duplicate_count" db:"duplicate_count"`
	ErrorMessage   string           `json:"error_message,omitempty" db:"error_message"`
}
