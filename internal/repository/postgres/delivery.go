// Package postgres implements the relay's storage contracts against
// PostgreSQL: delivery records, the webhook event log, contact status,
// and the shared rate-limit counters table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/email-relay/internal/delivery"
	"github.com/ignite/email-relay/internal/domain"
)

// statusPrecedenceSQL mirrors DeliveryStatus.Precedence so the guarded
// status update runs inside one UPDATE statement.
const statusPrecedenceSQL = `CASE status
	WHEN 'sent' THEN 1
	WHEN 'delivered' THEN 2
	WHEN 'opened' THEN 3
	WHEN 'clicked' THEN 4
	WHEN 'bounced' THEN 5
	WHEN 'failed' THEN 5
	ELSE 0 END`

// DeliveryRepo implements delivery.Repository against PostgreSQL.
type DeliveryRepo struct{ db *sql.DB }

// NewDeliveryRepo creates a Postgres-backed delivery record repository.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

func (r *DeliveryRepo) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relay_messages
			(id, campaign_id, contact_id, email, message_id, provider, status, sent_at, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (message_id) DO NOTHING
	`, rec.ID, rec.CampaignID, rec.ContactID, rec.Email, rec.MessageID,
		string(rec.Provider), string(rec.Status), rec.SentAt)
	if err != nil {
		return fmt.Errorf("create delivery record: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	var campaignID, contactID, bounceReason sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, contact_id, email, message_id, provider, status,
		       sent_at, delivered_at, opened_at, clicked_at, bounced_at, bounce_reason
		FROM relay_messages
		WHERE message_id = $1
	`, messageID).Scan(
		&rec.ID, &campaignID, &contactID, &rec.Email, &rec.MessageID,
		&rec.Provider, &rec.Status,
		&rec.SentAt, &rec.DeliveredAt, &rec.OpenedAt, &rec.ClickedAt,
		&rec.BouncedAt, &bounceReason,
	)
	if err == sql.ErrNoRows {
		return nil, delivery.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	rec.CampaignID = campaignID.String
	rec.ContactID = contactID.String
	rec.BounceReason = bounceReason.String
	return &rec, nil
}

// ApplyEvent runs one transition as a single conditional UPDATE: the event's
// timestamp column is set only if still NULL, the summary status only moves
// to a higher-precedence state, and the first bounce reason wins. Atomic
// under concurrent webhook deliveries for the same message.
func (r *DeliveryRepo) ApplyEvent(ctx context.Context, messageID string, t delivery.Transition, at time.Time, reason string) error {
	if reason == "" {
		reason = t.Reason
	}

	var tsColumn string
	switch t.Status {
	case domain.DeliveryDelivered:
		tsColumn = "delivered_at"
	case domain.DeliveryOpened:
		tsColumn = "opened_at"
	case domain.DeliveryClicked:
		tsColumn = "clicked_at"
	case domain.DeliveryBounced:
		tsColumn = "bounced_at"
	}

	set := make([]string, 0, 4)
	args := []interface{}{messageID}
	next := 2

	if tsColumn != "" {
		set = append(set, fmt.Sprintf("%s = COALESCE(%s, $%d)", tsColumn, tsColumn, next))
		args = append(args, at)
		next++
	}
	set = append(set, fmt.Sprintf("status = CASE WHEN %d > (%s) THEN $%d ELSE status END",
		t.Status.Precedence(), statusPrecedenceSQL, next))
	args = append(args, string(t.Status))
	next++
	if reason != "" {
		set = append(set, fmt.Sprintf(
			"bounce_reason = CASE WHEN bounce_reason IS NULL OR bounce_reason = '' THEN $%d ELSE bounce_reason END", next))
		args = append(args, reason)
		next++
	}
	set = append(set, "updated_at = NOW()")

	query := "UPDATE relay_messages SET " + strings.Join(set, ", ") + " WHERE message_id = $1"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply delivery event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply delivery event: %w", err)
	}
	if n == 0 {
		return delivery.ErrRecordNotFound
	}
	return nil
}
