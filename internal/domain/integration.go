package domain

import "time"

// ChannelKind identifies a delivery channel adapter.
type ChannelKind string

const (
	ChannelSMTP     ChannelKind = "smtp"
	ChannelSendGrid ChannelKind = "sendgrid"
	ChannelMailgun  ChannelKind = "mailgun"
	ChannelBrevo    ChannelKind = "brevo"
	ChannelSES      ChannelKind = "ses"
)

// Valid reports whether k names a known adapter.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelSMTP, ChannelSendGrid, ChannelMailgun, ChannelBrevo, ChannelSES:
		return true
	}
	return false
}

// Integration is a configured delivery channel. Settings is an opaque
// JSON blob interpreted by the adapter for the integration's kind;
// lower Priority values are tried first.
type Integration struct {
	ID        int64       `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	Kind      ChannelKind `json:"kind" db:"kind"`
	Settings  []byte      `json:"-" db:"settings"`
	Priority  int         `json:"priority" db:"priority"`
	Active    bool        `json:"active" db:"active"`
	FromName  string      `json:"from_name" db:"from_name"`
	FromEmail string      `json:"from_email" db:"from_email"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// OutboundEmail is a fully-resolved message ready for a channel adapter.
// By the time a message reaches this struct, all placeholder
// substitution and tracking injection is complete.
type OutboundEmail struct {
	AttemptID int64             `json:"attempt_id"`
	ContactID int64             `json:"contact_id"`
	To        string            `json:"to"`
	ToName    string            `json:"to_name"`
	FromName  string            `json:"from_name"`
	FromEmail string            `json:"from_email"`
	ReplyTo   string            `json:"reply_to"`
	Subject   string            `json:"subject"`
	HTML      string            `json:"html"`
	Text      string            `json:"text"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a channel adapter after a delivery try.
type SendResult struct {
	Success   bool        `json:"success"`
	MessageID string      `json:"message_id"`
	Channel   ChannelKind `json:"channel"`
	SentAt    time.Time   `json:"sent_at"`
	Error     string      `json:"error,omitempty"`
}
