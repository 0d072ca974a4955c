package domain

import "time"

// ContactStatus marks whether a contact may receive campaign mail.
type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactInactive     ContactStatus = "inactive"
	ContactBounced      ContactStatus = "bounced"
	ContactUnsubscribed ContactStatus = "unsubscribed"
)

// Contact is an addressable recipient. Tags is a free-form list used by
// segment criteria for substring matching.
type Contact struct {
	ID        int64         `json:"id" db:"id"`
	Email     string        `json:"email" db:"email"`
	Name      string        `json:"name" db:"name"`
	Company   string        `json:"company" db:"company"`
	Role      string        `json:"role" db:"role"`
	Phone     string        `json:"phone" db:"phone"`
	Group     string        `json:"group" db:"contact_group"`
	Tags      []string      `json:"tags" db:"tags"`
	Status    ContactStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// Template is stored campaign content. Variables use {name} or
// {{ name }} placeholder syntax; CSS, when present, is inlined into the
// rendered document head.
type Template struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	HTML      string    `json:"html" db:"html"`
	CSS       string    `json:"css" db:"css"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Segment is a stored named criteria set. Membership is never
// materialized; it is resolved against the contact base at send time.
type Segment struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Criteria  Criteria  `json:"criteria" db:"criteria"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Criteria maps filter keys to match values. Scalar values are strings;
// the "tags" key may carry a []string (every tag must match). The
// resolver owns the allow-list of keys.
type Criteria map[string]any
