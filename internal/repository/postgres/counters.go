package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/email-relay/internal/ratelimit"
)

// SQLWindow is the externalized send-budget limiter for multi-instance
// deployments: counters live in the relay_rate_limits table and every
// check-and-increment is a single conditional UPDATE, never a read-then-write
// from the application.
type SQLWindow struct {
	db       *sql.DB
	name     string
	limit    int
	duration time.Duration
}

var _ ratelimit.Limiter = (*SQLWindow)(nil)

// NewSQLWindow creates a table-backed budget window named name.
func NewSQLWindow(db *sql.DB, name string, limit int, duration time.Duration) *SQLWindow {
	if limit <= 0 {
		limit = 1
	}
	if duration <= 0 {
		duration = time.Minute
	}
	return &SQLWindow{db: db, name: name, limit: limit, duration: duration}
}

// CheckAndIncrement implements ratelimit.Limiter. The fast path is one
// conditional UPDATE that only matches when the window is current and under
// the limit; the fallback paths handle window expiry and first use, each as
// their own atomic statement.
func (w *SQLWindow) CheckAndIncrement(ctx context.Context) (ratelimit.Decision, error) {
	windowSecs := w.duration.Seconds()

	var count int
	var windowStart time.Time
	err := w.db.QueryRowContext(ctx, `
		UPDATE relay_rate_limits
		SET count = count + 1
		WHERE name = $1
		  AND window_start > NOW() - make_interval(secs => $2)
		  AND count < $3
		RETURNING count, window_start
	`, w.name, windowSecs, w.limit).Scan(&count, &windowStart)
	if err == nil {
		return ratelimit.Decision{
			Allowed:   true,
			Remaining: w.limit - count,
			ResetAt:   windowStart.Add(w.duration),
		}, nil
	}
	if err != sql.ErrNoRows {
		return ratelimit.Decision{}, fmt.Errorf("rate limit increment: %w", err)
	}

	// Window expired: reset and take the first slot.
	err = w.db.QueryRowContext(ctx, `
		UPDATE relay_rate_limits
		SET count = 1, window_start = NOW()
		WHERE name = $1
		  AND window_start <= NOW() - make_interval(secs => $2)
		RETURNING window_start
	`, w.name, windowSecs).Scan(&windowStart)
	if err == nil {
		return ratelimit.Decision{
			Allowed:   true,
			Remaining: w.limit - 1,
			ResetAt:   windowStart.Add(w.duration),
		}, nil
	}
	if err != sql.ErrNoRows {
		return ratelimit.Decision{}, fmt.Errorf("rate limit window reset: %w", err)
	}

	// No row yet: first use of this limiter name.
	err = w.db.QueryRowContext(ctx, `
		INSERT INTO relay_rate_limits (name, count, window_start)
		VALUES ($1, 1, NOW())
		ON CONFLICT (name) DO NOTHING
		RETURNING window_start
	`, w.name).Scan(&windowStart)
	if err == nil {
		return ratelimit.Decision{
			Allowed:   true,
			Remaining: w.limit - 1,
			ResetAt:   windowStart.Add(w.duration),
		}, nil
	}
	if err != sql.ErrNoRows {
		return ratelimit.Decision{}, fmt.Errorf("rate limit insert: %w", err)
	}

	// Budget exhausted: report when the window turns over.
	err = w.db.QueryRowContext(ctx,
		`SELECT window_start FROM relay_rate_limits WHERE name = $1`, w.name,
	).Scan(&windowStart)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limit read: %w", err)
	}
	return ratelimit.Decision{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   windowStart.Add(w.duration),
	}, nil
}

// Decrement implements ratelimit.Limiter. Only refunds into the current
// window: a refund that arrives after the window turned over must not grant
// the new window extra budget.
func (w *SQLWindow) Decrement(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, `
		UPDATE relay_rate_limits
		SET count = count - 1
		WHERE name = $1
		  AND count > 0
		  AND window_start > NOW() - make_interval(secs => $2)
	`, w.name, w.duration.Seconds())
	if err != nil {
		return fmt.Errorf("rate limit decrement: %w", err)
	}
	return nil
}

// Peek implements ratelimit.Limiter.
func (w *SQLWindow) Peek(ctx context.Context) (ratelimit.Info, error) {
	var count int
	var windowStart time.Time
	err := w.db.QueryRowContext(ctx,
		`SELECT count, window_start FROM relay_rate_limits WHERE name = $1`, w.name,
	).Scan(&count, &windowStart)
	if err == sql.ErrNoRows {
		return ratelimit.Info{Limit: w.limit, Remaining: w.limit}, nil
	}
	if err != nil {
		return ratelimit.Info{}, fmt.Errorf("rate limit peek: %w", err)
	}

	resetAt := windowStart.Add(w.duration)
	if !time.Now().Before(resetAt) {
		// Expired window reads as a fresh budget.
		return ratelimit.Info{Limit: w.limit, Remaining: w.limit, ResetAt: resetAt}, nil
	}
	remaining := w.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Info{Limit: w.limit, Remaining: remaining, ResetAt: resetAt}, nil
}
