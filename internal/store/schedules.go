package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/postwave/postwave/internal/domain"
)

const scheduleColumns = `
	id, name, template_id, COALESCE(segment_id, 0), COALESCE(subject, ''),
	COALESCE(default_data, 'null'), COALESCE(criteria, 'null'),
	send_at, status, COALESCE(error_message, ''), started_at, finished_at, created_at`

func scanSchedule(row interface{ Scan(...any) error }) (*domain.Schedule, error) {
	var sch domain.Schedule
	var defaultData, criteria []byte
	err := row.Scan(&sch.ID, &sch.Name, &sch.TemplateID, &sch.SegmentID, &sch.Subject,
		&defaultData, &criteria,
		&sch.SendAt, &sch.Status, &sch.ErrorMessage, &sch.StartedAt, &sch.FinishedAt, &sch.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(defaultData, &sch.DefaultData); err != nil {
		return nil, fmt.Errorf("decode schedule %d default data: %w", sch.ID, err)
	}
	if err := json.Unmarshal(criteria, &sch.Criteria); err != nil {
		return nil, fmt.Errorf("decode schedule %d criteria: %w", sch.ID, err)
	}
	return &sch, nil
}

// GetSchedule loads one schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	sch, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}
	return sch, nil
}

// DueSchedules returns pending schedules whose send time has passed,
// oldest first.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE status = 'pending' AND send_at <= $1
		ORDER BY send_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// StuckSchedules returns schedules that entered sending before the
// cutoff and never reached a terminal state. These are crash leftovers
// the dispatcher resumes.
func (s *Store) StuckSchedules(ctx context.Context, cutoff time.Time) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE status = 'sending' AND started_at < $1
		ORDER BY started_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func collectSchedules(rows *sql.Rows) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sch)
	}
	return out, rows.Err()
}

// MarkScheduleSending transitions pending -> sending. The WHERE guard
// makes the claim exclusive: when another worker already moved the row,
// no rows match and ErrConflict is returned.
func (s *Store) MarkScheduleSending(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET status = 'sending', started_at = $2
		WHERE id = $1 AND status = 'pending'`, id, now)
	if err != nil {
		return fmt.Errorf("mark schedule %d sending: %w", id, err)
	}
	return oneRow(res)
}

// MarkScheduleSent transitions sending -> sent.
func (s *Store) MarkScheduleSent(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET status = 'sent', finished_at = $2
		WHERE id = $1 AND status = 'sending'`, id, now)
	if err != nil {
		return fmt.Errorf("mark schedule %d sent: %w", id, err)
	}
	return oneRow(res)
}

// MarkScheduleError transitions a non-terminal schedule to error with a
// reason. Terminal rows are never overwritten.
func (s *Store) MarkScheduleError(ctx context.Context, id int64, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET status = 'error', error_message = $2, finished_at = $3
		WHERE id = $1 AND status IN ('pending', 'sending')`, id, reason, now)
	if err != nil {
		return fmt.Errorf("mark schedule %d error: %w", id, err)
	}
	return oneRow(res)
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
