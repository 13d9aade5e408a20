package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/email-relay/internal/domain"
)

// EventRepo implements webhook.EventStore against PostgreSQL. The table
// carries a unique index on (provider, event_type, message_id, payload_hash)
// so concurrent deliveries of the same event collapse onto one row.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed webhook event log.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) IncrementDuplicate(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE relay_webhook_events
		SET duplicate_count = duplicate_count + 1, last_seen_at = NOW()
		WHERE provider = $1 AND event_type = $2 AND message_id = $3 AND payload_hash = $4
	`, string(ev.Provider), string(ev.EventType), ev.MessageID, ev.PayloadHash)
	if err != nil {
		return false, fmt.Errorf("increment duplicate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment duplicate: %w", err)
	}
	return n > 0, nil
}

func (r *EventRepo) Insert(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	// The conflict arm absorbs the race where two identical events pass the
	// duplicate lookup before either row exists. xmax = 0 holds only for a
	// fresh insert, so the caller can tell which side of the race it is on.
	var created bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO relay_webhook_events
			(id, provider, event_type, message_id, email, payload, payload_hash,
			 signature, bounce_type, reason, received_at, event_at, processed, duplicate_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false, 0)
		ON CONFLICT (provider, event_type, message_id, payload_hash) DO UPDATE
			SET duplicate_count = relay_webhook_events.duplicate_count + 1,
			    last_seen_at = NOW()
		RETURNING (xmax = 0)
	`, ev.ID, string(ev.Provider), string(ev.EventType), ev.MessageID, ev.Email,
		ev.Payload, ev.PayloadHash, ev.Signature, string(ev.BounceType), ev.Reason,
		ev.ReceivedAt, ev.EventAt).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return created, nil
}

func (r *EventRepo) MarkProcessed(ctx context.Context, id string, procErr error) error {
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE relay_webhook_events
		SET processed = true, processed_at = NOW(), error_message = NULLIF($2, '')
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// ListUnprocessed returns events whose side effects never completed,
// oldest first, for the reconciliation sweep.
func (r *EventRepo) ListUnprocessed(ctx context.Context, limit int) ([]*domain.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider, event_type, message_id, email, payload, payload_hash,
		       bounce_type, reason, received_at, event_at, duplicate_count
		FROM relay_webhook_events
		WHERE processed = false
		ORDER BY received_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	defer rows.Close()

	var out []*domain.WebhookEvent
	for rows.Next() {
		var ev domain.WebhookEvent
		var bounceType, reason sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Provider, &ev.EventType, &ev.MessageID,
			&ev.Email, &ev.Payload, &ev.PayloadHash, &bounceType, &reason,
			&ev.ReceivedAt, &ev.EventAt, &ev.DuplicateCount); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		ev.BounceType = domain.BounceType(bounceType.String)
		ev.Reason = reason.String
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes event rows received before the cutoff. Retention
// cleanup is the only path that deletes from the event log.
func (r *EventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM relay_webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return res.RowsAffected()
}
