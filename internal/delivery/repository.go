package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/email-relay/internal/domain"
)

// Sentinel errors for the delivery service layer.
var (
	// ErrRecordNotFound means no delivery record matches the provider
	// message id. Callers treat this as a soft no-op, never a hard failure:
	// webhook events routinely arrive for traffic outside this system or
	// before the record is persisted.
	ErrRecordNotFound = errors.New("delivery record not found")
)

// Repository persists delivery records keyed by provider message id.
type Repository interface {
	Create(ctx context.Context, rec *domain.DeliveryRecord) error
	GetByMessageID(ctx context.Context, messageID string) (*domain.DeliveryRecord, error)

	// ApplyEvent applies one transition atomically (COALESCE semantics in
	// SQL implementations). Returns ErrRecordNotFound when no record
	// matches messageID.
	ApplyEvent(ctx context.Context, messageID string, t Transition, at time.Time, reason string) error
}

// ContactStore is the slice of the contact collaborator this core touches:
// only the status field, only from bounce/suppression side effects.
// Implementations must make status updates idempotent: re-applying the
// same status is a successful no-op.
type ContactStore interface {
	UpdateStatus(ctx context.Context, email string, status domain.ContactStatus, at time.Time) error
}
