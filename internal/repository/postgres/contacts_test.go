package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/email-relay/internal/domain"
)

func TestContactRepoUpdateStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE relay_contacts.*bounced_at = CASE WHEN \$2 = 'bounced' THEN COALESCE\(bounced_at, \$3\)`).
		WithArgs("bob@example.com", "bounced", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewContactRepo(db).UpdateStatus(context.Background(), "Bob@Example.com", domain.ContactBounced, at)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestContactRepoUpdateStatusUnknownEmailIsNoop(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE relay_contacts`).
		WithArgs("nobody@example.com", "unsubscribed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewContactRepo(db).UpdateStatus(context.Background(), "nobody@example.com", domain.ContactUnsubscribed, time.Now())
	if err != nil {
		t.Fatalf("unknown contacts must not error: %v", err)
	}
}

func TestContactRepoIsSendable(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "email", "status", "bounced_at", "unsubscribed_at"}).
		AddRow("c-1", "a@example.com", "bounced", time.Now(), nil)
	mock.ExpectQuery(`SELECT id, email, status`).
		WithArgs("a@example.com").
		WillReturnRows(rows)

	sendable, err := NewContactRepo(db).IsSendable(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("IsSendable: %v", err)
	}
	if sendable {
		t.Error("bounced contact reported sendable")
	}
}

func TestContactRepoIsSendableUnknownContact(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT id, email, status`).
		WithArgs("new@example.com").
		WillReturnError(sql.ErrNoRows)

	sendable, err := NewContactRepo(db).IsSendable(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("IsSendable: %v", err)
	}
	if !sendable {
		t.Error("unknown contact should be sendable")
	}
}
