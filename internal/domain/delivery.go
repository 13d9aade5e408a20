package domain

import "time"

// DeliveryStatus summarizes the lifecycle of a dispatched message.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryOpened    DeliveryStatus = "opened"
	DeliveryClicked   DeliveryStatus = "clicked"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Precedence orders delivery statuses so that out-of-order webhook arrival
// converges: the summary status only ever moves up the ladder. Bounced and
// failed are terminal and outrank engagement events (a spam complaint after
// an open still wins).
func (s DeliveryStatus) Precedence() int {
	switch s {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryOpened:
		return 3
	case DeliveryClicked:
		return 4
	case DeliveryBounced, DeliveryFailed:
		return 5
	default:
		return 0
	}
}

// DeliveryRecord tracks one outbound message through its delivery lifecycle.
// It is keyed by the provider message id and updated in place as webhook
// events arrive. Each event type writes its own timestamp column, so the
// record converges regardless of arrival order.
type DeliveryRecord struct {
	ID           string            `json:"id" db:"id"`
	CampaignID   string            `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID    string            `json:"contact_id,omitempty" db:"contact_id"`
	Email        string            `json:"email" db:"email"`
	MessageID    string            `json:"message_id" db:"message_id"` // provider message id
	Provider     ProviderType      `json:"provider" db:"provider"`
	Status       DeliveryStatus    `json:"status" db:"status"`
	SentAt       *time.Time        `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt  *time.Time        `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt     *time.Time        `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt    *time.Time        `json:"clicked_at,omitempty" db:"clicked_at"`
	BouncedAt    *time.Time        `json:"bounced_at,omitempty" db:"bounced_at"`
	BounceReason string            `json:"bounce_reason,omitempty" db:"bounce_reason"`
	TrackingData map[string]string `json:"tracking_data,omitempty" db:"tracking_data"`
}

// ContactStatus is the sendability state of a contact.
type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
)

// Contact is the minimal slice of the contact collaborator this core needs:
// the status field driven by bounce/suppression side effects. Normal send
// and delivery events never touch it.
type Contact struct {
	ID             string        `json:"id" db:"id"`
	Email          string        `json:"email" db:"email"`
	Status         ContactStatus `json:"status" db:"status"`
	BouncedAt      *time.Time    `json:"bounced_at,omitempty" db:"bounced_at"`
	UnsubscribedAt *time.Time    `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
}

// BounceType distinguishes permanent from transient delivery failures.
type BounceType string

const (
	BounceHard BounceType = "hard" // invalid address, suppress future sends
	BounceSoft BounceType = "soft" // mailbox full / transient, do not suppress
)
