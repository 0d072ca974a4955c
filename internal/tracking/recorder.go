package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/store"
	"github.com/postwave/postwave/internal/token"
)

var (
	// ErrInvalidToken is returned for tokens that fail validation.
	// Callers must not reveal why to the requester.
	ErrInvalidToken = errors.New("tracking: invalid token")
	// ErrUnknownAttempt is returned when a valid token references an
	// attempt that does not exist.
	ErrUnknownAttempt = errors.New("tracking: unknown attempt")
)

// EventStore is the persistence the Recorder needs.
type EventStore interface {
	GetAttempt(ctx context.Context, id int64) (*domain.DeliveryAttempt, error)
	InsertEvent(ctx context.Context, e domain.TrackingEvent) (int64, error)
}

// RequestMeta is the request context stored with each event.
type RequestMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Recorder validates tokens and appends tracking events. Events are
// append-only: every open and click adds a row, repeats included.
type Recorder struct {
	tokens *token.Service
	db     EventStore
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(tokens *token.Service, db EventStore) *Recorder {
	return &Recorder{tokens: tokens, db: db, now: time.Now}
}

// Record validates tok, checks the attempt it references exists, and
// appends an event. eventURL is only meaningful for clicks.
func (r *Recorder) Record(ctx context.Context, tok, eventURL string, meta RequestMeta) (token.Claims, error) {
	claims, ok := r.tokens.Validate(tok)
	if !ok {
		return token.Claims{}, ErrInvalidToken
	}

	if _, err := r.db.GetAttempt(ctx, claims.AttemptID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return token.Claims{}, ErrUnknownAttempt
		}
		return token.Claims{}, fmt.Errorf("load attempt %d: %w", claims.AttemptID, err)
	}

	metadata, _ := json.Marshal(meta)
	_, err := r.db.InsertEvent(ctx, domain.TrackingEvent{
		AttemptID:  claims.AttemptID,
		ContactID:  claims.ContactID,
		Type:       claims.Event,
		URL:        eventURL,
		Metadata:   metadata,
		OccurredAt: r.now().UTC(),
	})
	if err != nil {
		return token.Claims{}, err
	}
	return claims, nil
}
