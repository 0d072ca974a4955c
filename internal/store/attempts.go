package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/postwave/postwave/internal/domain"
)

const attemptColumns = `
	id, COALESCE(schedule_id, 0), contact_id, email, status,
	COALESCE(channel, ''), COALESCE(message_id, ''), COALESCE(error_message, ''),
	sent_at, created_at`

func scanAttempt(row interface{ Scan(...any) error }) (*domain.DeliveryAttempt, error) {
	var a domain.DeliveryAttempt
	err := row.Scan(&a.ID, &a.ScheduleID, &a.ContactID, &a.Email, &a.Status,
		&a.Channel, &a.MessageID, &a.ErrorMessage, &a.SentAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAttempt inserts a pending delivery attempt. The unique index on
// (schedule_id, contact_id) enforces at most one attempt per pair;
// violating it returns ErrDuplicateAttempt.
func (s *Store) CreateAttempt(ctx context.Context, scheduleID, contactID int64, email string, now time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO delivery_attempts (schedule_id, contact_id, email, status, created_at)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING id`, scheduleID, contactID, email, now).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, ErrDuplicateAttempt
		}
		return 0, fmt.Errorf("create attempt for schedule %d contact %d: %w", scheduleID, contactID, err)
	}
	return id, nil
}

// CreateDetachedAttempt inserts a pending attempt with no schedule,
// used by single test sends. Detached attempts are exempt from the
// per-schedule uniqueness rule.
func (s *Store) CreateDetachedAttempt(ctx context.Context, contactID int64, email string, now time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO delivery_attempts (schedule_id, contact_id, email, status, created_at)
		VALUES (NULL, $1, $2, 'pending', $3)
		RETURNING id`, contactID, email, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create detached attempt: %w", err)
	}
	return id, nil
}

// GetAttempt loads one attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id int64) (*domain.DeliveryAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt %d: %w", id, err)
	}
	return a, nil
}

// AttemptsBySchedule lists a schedule's attempts, oldest first.
func (s *Store) AttemptsBySchedule(ctx context.Context, scheduleID int64) ([]domain.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM delivery_attempts WHERE schedule_id = $1
		ORDER BY id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list attempts for schedule %d: %w", scheduleID, err)
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AttemptedContactIDs returns the contacts that already have an attempt
// row for a schedule, whatever the outcome. Reconciliation uses this to
// skip work a crashed run already started.
func (s *Store) AttemptedContactIDs(ctx context.Context, scheduleID int64) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT contact_id FROM delivery_attempts WHERE schedule_id = $1`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list attempted contacts for schedule %d: %w", scheduleID, err)
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// MarkAttemptSent records a successful delivery. Only pending attempts
// transition; a terminal row returns ErrConflict so redelivered jobs
// stay no-ops.
func (s *Store) MarkAttemptSent(ctx context.Context, id int64, channel domain.ChannelKind, messageID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_attempts
		SET status = 'sent', channel = $2, message_id = $3, sent_at = $4
		WHERE id = $1 AND status = 'pending'`, id, string(channel), messageID, now)
	if err != nil {
		return fmt.Errorf("mark attempt %d sent: %w", id, err)
	}
	return oneRow(res)
}

// MarkAttemptError records a delivery failure after channel exhaustion.
func (s *Store) MarkAttemptError(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_attempts
		SET status = 'error', error_message = $2
		WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return fmt.Errorf("mark attempt %d error: %w", id, err)
	}
	return oneRow(res)
}
