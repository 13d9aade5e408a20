package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/email-relay/internal/domain"
	"github.com/ignite/email-relay/internal/pkg/logger"
)

// Service owns delivery-record updates and the bounce/suppression side
// effects they trigger. Safe for concurrent use.
type Service struct {
	repo     Repository
	contacts ContactStore
	now      func() time.Time
}

// NewService creates a delivery service backed by the given stores.
func NewService(repo Repository, contacts ContactStore) *Service {
	return &Service{repo: repo, contacts: contacts, now: time.Now}
}

// RecordSent creates the delivery record for a successfully dispatched
// message so later webhook events can be correlated by provider message id.
func (s *Service) RecordSent(ctx context.Context, result *domain.DispatchResult, msg *domain.OutboundMessage) error {
	if result.MessageID == "" {
		return fmt.Errorf("record sent: dispatch result has no provider message id")
	}
	sentAt := result.SentAt
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	email := ""
	if len(msg.To) > 0 {
		email = msg.To[0]
	}
	return s.repo.Create(ctx, &domain.DeliveryRecord{
		CampaignID: msg.CampaignID,
		ContactID:  msg.ContactID,
		Email:      email,
		MessageID:  result.MessageID,
		Provider:   result.Provider,
		Status:     domain.DeliverySent,
		SentAt:     &sentAt,
	})
}

// ApplyEvent advances the delivery record matched by the event's provider
// message id. A missing record surfaces as ErrRecordNotFound so the caller
// can leave the event pending for reconciliation: the record may still be
// landing from a concurrent send. It is never a reason to reject ingestion.
func (s *Service) ApplyEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	t, ok := TransitionFor(ev.EventType)
	if !ok {
		// Unrecognized types are event-log only
		logger.Debug("event type has no delivery transition", "event_type", string(ev.EventType))
		return nil
	}

	at := ev.EventAt
	if at.IsZero() {
		at = s.now()
	}

	err := s.repo.ApplyEvent(ctx, ev.MessageID, t, at, ev.Reason)
	if errors.Is(err, ErrRecordNotFound) {
		logger.Debug("no delivery record for webhook event",
			"provider", string(ev.Provider), "message_id", ev.MessageID)
	}
	return err
}

// HandleBounce applies bounce side effects. A hard bounce suppresses the
// contact (status bounced + timestamp); a soft bounce is transient and only
// the delivery record keeps the reason, which ApplyEvent already stored.
// Idempotent: repeating a hard bounce for an already-bounced contact is a
// successful no-op.
func (s *Service) HandleBounce(ctx context.Context, email string, bounceType domain.BounceType, reason string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("handle bounce: email is required")
	}

	if bounceType != domain.BounceHard {
		logger.Debug("soft bounce, contact status unchanged", "email", email, "reason", reason)
		return nil
	}

	logger.Info("suppressing contact after hard bounce", "email", email, "reason", reason)
	return s.contacts.UpdateStatus(ctx, email, domain.ContactBounced, s.now())
}

// HandleUnsubscribe marks the contact unsubscribed. Idempotent.
func (s *Service) HandleUnsubscribe(ctx context.Context, email, reason string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("handle unsubscribe: email is required")
	}

	logger.Info("unsubscribing contact", "email", email, "reason", reason)
	return s.contacts.UpdateStatus(ctx, email, domain.ContactUnsubscribed, s.now())
}
