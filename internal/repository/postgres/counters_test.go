package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLWindowAllowsUnderLimit(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	windowStart := time.Now().Add(-10 * time.Second)
	mock.ExpectQuery(`UPDATE relay_rate_limits.*SET count = count \+ 1.*AND count <`).
		WithArgs("send_budget", float64(60), 100).
		WillReturnRows(sqlmock.NewRows([]string{"count", "window_start"}).AddRow(5, windowStart))

	w := NewSQLWindow(db, "send_budget", 100, time.Minute)
	d, err := w.CheckAndIncrement(context.Background())
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if !d.Allowed || d.Remaining != 95 {
		t.Errorf("decision = %+v", d)
	}
	if !d.ResetAt.Equal(windowStart.Add(time.Minute)) {
		t.Errorf("ResetAt = %v", d.ResetAt)
	}
}

func TestSQLWindowResetsExpiredWindow(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// Conditional increment misses, the reset statement takes slot one
	mock.ExpectQuery(`SET count = count \+ 1`).
		WithArgs("send_budget", float64(60), 100).
		WillReturnError(sql.ErrNoRows)
	newStart := time.Now()
	mock.ExpectQuery(`SET count = 1, window_start = NOW\(\)`).
		WithArgs("send_budget", float64(60)).
		WillReturnRows(sqlmock.NewRows([]string{"window_start"}).AddRow(newStart))

	w := NewSQLWindow(db, "send_budget", 100, time.Minute)
	d, err := w.CheckAndIncrement(context.Background())
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if !d.Allowed || d.Remaining != 99 {
		t.Errorf("decision = %+v", d)
	}
}

func TestSQLWindowFirstUseInserts(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`SET count = count \+ 1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SET count = 1, window_start = NOW\(\)`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO relay_rate_limits`).
		WithArgs("send_budget").
		WillReturnRows(sqlmock.NewRows([]string{"window_start"}).AddRow(time.Now()))

	w := NewSQLWindow(db, "send_budget", 10, time.Minute)
	d, err := w.CheckAndIncrement(context.Background())
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if !d.Allowed || d.Remaining != 9 {
		t.Errorf("decision = %+v", d)
	}
}

func TestSQLWindowExhaustedBudgetRejected(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	windowStart := time.Now().Add(-5 * time.Second)
	mock.ExpectQuery(`SET count = count \+ 1`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SET count = 1, window_start = NOW\(\)`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO relay_rate_limits`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT window_start FROM relay_rate_limits`).
		WithArgs("send_budget").
		WillReturnRows(sqlmock.NewRows([]string{"window_start"}).AddRow(windowStart))

	w := NewSQLWindow(db, "send_budget", 10, time.Minute)
	d, err := w.CheckAndIncrement(context.Background())
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Errorf("decision = %+v", d)
	}
	if !d.ResetAt.Equal(windowStart.Add(time.Minute)) {
		t.Errorf("ResetAt = %v", d.ResetAt)
	}
}

func TestSQLWindowDecrementGuarded(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec(`SET count = count - 1.*AND count > 0`).
		WithArgs("send_budget", float64(60)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := NewSQLWindow(db, "send_budget", 10, time.Minute)
	if err := w.Decrement(context.Background()); err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLWindowPeek(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	windowStart := time.Now().Add(-10 * time.Second)
	mock.ExpectQuery(`SELECT count, window_start FROM relay_rate_limits`).
		WithArgs("send_budget").
		WillReturnRows(sqlmock.NewRows([]string{"count", "window_start"}).AddRow(7, windowStart))

	w := NewSQLWindow(db, "send_budget", 10, time.Minute)
	info, err := w.Peek(context.Background())
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if info.Limit != 10 || info.Remaining != 3 {
		t.Errorf("info = %+v", info)
	}
}

func TestSQLWindowPeekMissingRow(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT count, window_start`).
		WithArgs("send_budget").
		WillReturnError(sql.ErrNoRows)

	w := NewSQLWindow(db, "send_budget", 10, time.Minute)
	info, err := w.Peek(context.Background())
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if info.Remaining != 10 {
		t.Errorf("fresh limiter should report full budget, got %+v", info)
	}
}
