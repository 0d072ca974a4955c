package domain

import "time"

// ScheduleStatus is the lifecycle state of a campaign schedule.
//
// Transitions: pending -> sending -> sent | error. A schedule never
// leaves a terminal state, and only the dispatcher writes transitions.
type ScheduleStatus string

const (
	SchedulePending ScheduleStatus = "pending"
	ScheduleSending ScheduleStatus = "sending"
	ScheduleSent    ScheduleStatus = "sent"
	ScheduleError   ScheduleStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleSent || s == ScheduleError
}

// Schedule binds a template to a segment at a point in time. SegmentID
// is optional; when zero, Criteria holds an inline criteria set. A
// non-empty Subject overrides the template's subject line, and
// DefaultData fills render variables that per-contact data leaves
// blank.
type Schedule struct {
	ID           int64             `json:"id" db:"id"`
	Name         string            `json:"name" db:"name"`
	TemplateID   int64             `json:"template_id" db:"template_id"`
	SegmentID    int64             `json:"segment_id" db:"segment_id"`
	Subject      string            `json:"subject,omitempty" db:"subject"`
	DefaultData  map[string]string `json:"default_data,omitempty" db:"default_data"`
	Criteria     Criteria          `json:"criteria,omitempty" db:"criteria"`
	SendAt       time.Time         `json:"send_at" db:"send_at"`
	Status       ScheduleStatus    `json:"status" db:"status"`
	ErrorMessage string            `json:"error_message,omitempty" db:"error_message"`
	StartedAt    *time.Time        `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// AttemptStatus is the lifecycle state of a per-contact delivery attempt.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSent    AttemptStatus = "sent"
	AttemptError   AttemptStatus = "error"
)

// Terminal reports whether the attempt outcome is final.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSent || s == AttemptError
}

// DeliveryAttempt records the outcome of delivering one schedule to one
// contact. At most one row exists per (schedule, contact) pair.
type DeliveryAttempt struct {
	ID           int64         `json:"id" db:"id"`
	ScheduleID   int64         `json:"schedule_id" db:"schedule_id"`
	ContactID    int64         `json:"contact_id" db:"contact_id"`
	Email        string        `json:"email" db:"email"`
	Status       AttemptStatus `json:"status" db:"status"`
	Channel      string        `json:"channel,omitempty" db:"channel"`
	MessageID    string        `json:"message_id,omitempty" db:"message_id"`
	ErrorMessage string        `json:"error_message,omitempty" db:"error_message"`
	SentAt       *time.Time    `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}
