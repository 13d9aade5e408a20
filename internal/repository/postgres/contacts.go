package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/email-relay/internal/domain"
)

// ContactRepo implements delivery.ContactStore against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact status store.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

// UpdateStatus sets the contact's sendability state. Idempotent: the
// timestamp columns keep their first value and re-applying the same status
// matches zero or more rows without error. An unknown email is a no-op,
// since bounce events can reference contacts imported elsewhere.
func (r *ContactRepo) UpdateStatus(ctx context.Context, email string, status domain.ContactStatus, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE relay_contacts
		SET status = $2,
		    bounced_at = CASE WHEN $2 = 'bounced' THEN COALESCE(bounced_at, $3) ELSE bounced_at END,
		    unsubscribed_at = CASE WHEN $2 = 'unsubscribed' THEN COALESCE(unsubscribed_at, $3) ELSE unsubscribed_at END,
		    updated_at = NOW()
		WHERE LOWER(email) = $1
	`, strings.ToLower(email), string(status), at)
	if err != nil {
		return fmt.Errorf("update contact status: %w", err)
	}
	return nil
}

// GetByEmail fetches a contact's suppression state.
func (r *ContactRepo) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	var c domain.Contact
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, status, bounced_at, unsubscribed_at
		FROM relay_contacts
		WHERE LOWER(email) = $1
	`, strings.ToLower(email)).Scan(&c.ID, &c.Email, &c.Status, &c.BouncedAt, &c.UnsubscribedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

// IsSendable reports whether the contact may receive mail. Unknown
// contacts are sendable; suppression only applies to known state.
func (r *ContactRepo) IsSendable(ctx context.Context, email string) (bool, error) {
	c, err := r.GetByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if c == nil {
		return true, nil
	}
	return c.Status == domain.ContactActive, nil
}
