package store

import (
	"context"
	"fmt"

	"github.com/postwave/postwave/internal/domain"
)

// InsertEvent appends a tracking event. Events are never updated or
// deleted; a contact opening twice yields two rows.
func (s *Store) InsertEvent(ctx context.Context, e domain.TrackingEvent) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tracking_events (attempt_id, contact_id, event_type, url, metadata, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING id`,
		e.AttemptID, e.ContactID, string(e.Type), e.URL, e.Metadata, e.OccurredAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s event for attempt %d: %w", e.Type, e.AttemptID, err)
	}
	return id, nil
}

// EventsByAttempt lists an attempt's events in insertion order.
func (s *Store) EventsByAttempt(ctx context.Context, attemptID int64) ([]domain.TrackingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attempt_id, contact_id, event_type, COALESCE(url, ''), metadata, occurred_at
		FROM tracking_events WHERE attempt_id = $1
		ORDER BY id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list events for attempt %d: %w", attemptID, err)
	}
	defer rows.Close()

	var out []domain.TrackingEvent
	for rows.Next() {
		var e domain.TrackingEvent
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.ContactID, &e.Type, &e.URL, &e.Metadata, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ScheduleMetrics rolls up attempt outcomes and engagement for one
// schedule. Unique counts are per attempt, totals count every event.
func (s *Store) ScheduleMetrics(ctx context.Context, scheduleID int64) (*domain.ScheduleMetrics, error) {
	m := domain.ScheduleMetrics{ScheduleID: scheduleID}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'error')
		FROM delivery_attempts WHERE schedule_id = $1`, scheduleID).
		Scan(&m.AttemptsTotal, &m.AttemptsSent, &m.AttemptsError)
	if err != nil {
		return nil, fmt.Errorf("attempt metrics for schedule %d: %w", scheduleID, err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE e.event_type = 'open'),
		       COUNT(DISTINCT e.attempt_id) FILTER (WHERE e.event_type = 'open'),
		       COUNT(*) FILTER (WHERE e.event_type = 'click'),
		       COUNT(DISTINCT e.attempt_id) FILTER (WHERE e.event_type = 'click'),
		       COUNT(*) FILTER (WHERE e.event_type = 'response')
		FROM tracking_events e
		JOIN delivery_attempts a ON a.id = e.attempt_id
		WHERE a.schedule_id = $1`, scheduleID).
		Scan(&m.Opens, &m.UniqueOpens, &m.Clicks, &m.UniqueClicks, &m.Responses)
	if err != nil {
		return nil, fmt.Errorf("event metrics for schedule %d: %w", scheduleID, err)
	}

	return &m, nil
}
