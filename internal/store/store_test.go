package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/postwave/postwave/internal/domain"
)

func setupTestDB(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func TestMarkScheduleSendingGuard(t *testing.T) {
	s, mock, cleanup := setupTestDB(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectExec("UPDATE schedules SET status = 'sending'").
		WithArgs(int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.MarkScheduleSending(context.Background(), 5, now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Second claim matches no rows: another worker won.
	mock.ExpectExec("UPDATE schedules SET status = 'sending'").
		WithArgs(int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.MarkScheduleSending(context.Background(), 5, now); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMarkScheduleErrorSkipsTerminal(t *testing.T) {
	s, mock, cleanup := setupTestDB(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectExec("UPDATE schedules SET status = 'error'").
		WithArgs(int64(9), "segment resolution failed", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkScheduleError(context.Background(), 9, "segment resolution failed", now)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict for terminal schedule", err)
	}
}

func TestCreateAttemptDuplicate(t *testing.T) {
	s, mock, cleanup := setupTestDB(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO delivery_attempts").
		WithArgs(int64(1), int64(2), "ana@acme.example", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))

	id, err := s.CreateAttempt(context.Background(), 1, 2, "ana@acme.example", now)
	if err != nil || id != 77 {
		t.Fatalf("create: id=%d err=%v", id, err)
	}

	mock.ExpectQuery("INSERT INTO delivery_attempts").
		WithArgs(int64(1), int64(2), "ana@acme.example", now).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = s.CreateAttempt(context.Background(), 1, 2, "ana@acme.example", now)
	if !errors.Is(err, ErrDuplicateAttempt) {
		t.Fatalf("err = %v, want ErrDuplicateAttempt", err)
	}
}

func TestMarkAttemptSentIdempotent(t *testing.T) {
	s, mock, cleanup := setupTestDB(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectExec("UPDATE delivery_attempts").
		WithArgs(int64(3), "smtp", "msg-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.MarkAttemptSent(context.Background(), 3, domain.ChannelSMTP, "msg-1", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	mock.ExpectExec("UPDATE delivery_attempts").
		WithArgs(int64(3), "smtp", "msg-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.MarkAttemptSent(context.Background(), 3, domain.ChannelSMTP, "msg-1", now)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict for terminal attempt", err)
	}
}

func TestGetTemplateNotFound(t *testing.T) {
	s, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, name, subject, html").
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetTemplate(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestActiveIntegrationsOrder(t *testing.T) {
	s, mock, cleanup := setupTestDB(t)
	defer cleanup()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "name", "kind", "settings", "priority", "active", "from_name", "from_email", "created_at",
	}).
		AddRow(int64(1), "primary smtp", "smtp", []byte(`{"host":"mx1"}`), 1, true, "Post", "no-reply@pw.example", now).
		AddRow(int64(2), "sendgrid backup", "sendgrid", []byte(`{"api_key":"k"}`), 2, true, "Post", "no-reply@pw.example", now)
	mock.ExpectQuery("FROM integrations WHERE active").WillReturnRows(rows)

	got, err := s.ActiveIntegrations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Kind != domain.ChannelSMTP || got[1].Kind != domain.ChannelSendGrid {
		t.Fatalf("integrations = %+v", got)
	}
}

func TestScheduleMetricsRollup(t *testing.T) {
	s, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("FROM delivery_attempts WHERE schedule_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "sent", "error"}).AddRow(10, 8, 2))
	mock.ExpectQuery("FROM tracking_events e").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"opens", "uopens", "clicks", "uclicks", "responses"}).
			AddRow(12, 6, 4, 3, 1))

	m, err := s.ScheduleMetrics(context.Background(), 7)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.AttemptsSent != 8 || m.Opens != 12 || m.UniqueOpens != 6 || m.Responses != 1 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestAttemptedContactIDs(t *testing.T) {
	s, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT contact_id FROM delivery_attempts").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"contact_id"}).AddRow(int64(10)).AddRow(int64(11)))

	got, err := s.AttemptedContactIDs(context.Background(), 4)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !got[10] || !got[11] || len(got) != 2 {
		t.Fatalf("contacts = %v", got)
	}
}
