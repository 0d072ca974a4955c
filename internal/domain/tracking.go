package domain

import "time"

// EventType classifies a recipient interaction.
type EventType string

const (
	EventOpen     EventType = "open"
	EventClick    EventType = "click"
	EventResponse EventType = "response"
)

// Valid reports whether t names a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventOpen, EventClick, EventResponse:
		return true
	}
	return false
}

// TrackingEvent is an append-only interaction record. Repeated opens or
// clicks produce additional rows; nothing is deduplicated.
type TrackingEvent struct {
	ID         int64     `json:"id" db:"id"`
	AttemptID  int64     `json:"attempt_id" db:"attempt_id"`
	ContactID  int64     `json:"contact_id" db:"contact_id"`
	Type       EventType `json:"type" db:"event_type"`
	URL        string    `json:"url,omitempty" db:"url"`
	Metadata   []byte    `json:"metadata,omitempty" db:"metadata"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// ScheduleMetrics is the per-schedule engagement rollup.
type ScheduleMetrics struct {
	ScheduleID    int64 `json:"schedule_id"`
	AttemptsTotal int   `json:"attempts_total"`
	AttemptsSent  int   `json:"attempts_sent"`
	AttemptsError int   `json:"attempts_error"`
	Opens         int   `json:"opens"`
	UniqueOpens   int   `json:"unique_opens"`
	Clicks        int   `json:"clicks"`
	UniqueClicks  int   `json:"unique_clicks"`
	Responses     int   `json:"responses"`
}
