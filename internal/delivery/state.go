// Package delivery tracks per-message delivery state and applies the
// side effects webhook events trigger: status transitions, bounce
// suppression, and unsubscribes.
//
// Webhook events are not guaranteed to arrive in causal order (an opened
// event may race the delivered event it implies). The state machine
// converges under any arrival order: every event type writes its own
// timestamp field on first sighting, and the summary status only moves to a
// higher-precedence state.
package delivery

import (
	"time"

	"github.com/ignite/email-relay/internal/domain"
)

// Transition is the effect one webhook event type has on a delivery record.
type Transition struct {
	Status domain.DeliveryStatus
	Reason string // fixed reason for synthetic statuses (spam)
}

// TransitionFor maps an event type onto its transition. The second return
// is false for event types that change no delivery state (unsubscribes are
// contact-level; unknown events are logged only).
func TransitionFor(eventType domain.WebhookEventType) (Transition, bool) {
	switch eventType {
	case domain.EventDelivered:
		return Transition{Status: domain.DeliveryDelivered}, true
	case domain.EventOpened:
		return Transition{Status: domain.DeliveryOpened}, true
	case domain.EventClicked:
		return Transition{Status: domain.DeliveryClicked}, true
	case domain.EventBounced:
		return Transition{Status: domain.DeliveryBounced}, true
	case domain.EventSpam:
		return Transition{Status: domain.DeliveryFailed, Reason: "marked as spam"}, true
	default:
		return Transition{}, false
	}
}

// Apply mutates rec in place for one event occurrence. Timestamp fields are
// first-write-wins; the summary status never regresses to a lower-precedence
// state. reason overrides the transition's fixed reason when non-empty
// (bounce events carry the provider's diagnostic).
func Apply(rec *domain.DeliveryRecord, t Transition, at time.Time, reason string) {
	switch t.Status {
	case domain.DeliveryDelivered:
		if rec.DeliveredAt == nil {
			ts := at
			rec.DeliveredAt = &ts
		}
	case domain.DeliveryOpened:
		if rec.OpenedAt == nil {
			ts := at
			rec.OpenedAt = &ts
		}
	case domain.DeliveryClicked:
		if rec.ClickedAt == nil {
			ts := at
			rec.ClickedAt = &ts
		}
	case domain.DeliveryBounced:
		if rec.BouncedAt == nil {
			ts := at
			rec.BouncedAt = &ts
		}
		if reason != "" && rec.BounceReason == "" {
			rec.BounceReason = reason
		}
	case domain.DeliveryFailed:
		r := reason
		if r == "" {
			r = t.Reason
		}
		if r != "" && rec.BounceReason == "" {
			rec.BounceReason = r
		}
	}

	if t.Status.Precedence() > rec.Status.Precedence() {
		rec.Status = t.Status
	}
}
