package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/store"
	"github.com/postwave/postwave/internal/token"
)

// memEventStore is an in-memory EventStore for recorder tests.
type memEventStore struct {
	mu       sync.Mutex
	attempts map[int64]*domain.DeliveryAttempt
	events   []domain.TrackingEvent
	nextID   int64
}

func newMemEventStore(attemptIDs ...int64) *memEventStore {
	m := &memEventStore{attempts: map[int64]*domain.DeliveryAttempt{}, nextID: 1}
	for _, id := range attemptIDs {
		m.attempts[id] = &domain.DeliveryAttempt{ID: id, Status: domain.AttemptSent}
	}
	return m
}

func (m *memEventStore) GetAttempt(_ context.Context, id int64) (*domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (m *memEventStore) InsertEvent(_ context.Context, e domain.TrackingEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextID
	m.nextID++
	m.events = append(m.events, e)
	return e.ID, nil
}

func newTestRecorder(db EventStore) (*Recorder, *token.Service) {
	svc := token.New("test-secret")
	rec := NewRecorder(svc, db)
	rec.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	return rec, svc
}

func TestRecordAppendsEvent(t *testing.T) {
	db := newMemEventStore(42)
	rec, svc := newTestRecorder(db)

	tok := svc.Issue(42, 7, domain.EventClick)
	claims, err := rec.Record(context.Background(), tok, "https://shop.example", RequestMeta{IP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if claims.AttemptID != 42 || claims.Event != domain.EventClick {
		t.Errorf("claims = %+v", claims)
	}
	if len(db.events) != 1 {
		t.Fatalf("events = %d, want 1", len(db.events))
	}
	e := db.events[0]
	if e.AttemptID != 42 || e.ContactID != 7 || e.Type != domain.EventClick || e.URL != "https://shop.example" {
		t.Errorf("event = %+v", e)
	}
}

func TestRecordOpensAreAdditive(t *testing.T) {
	db := newMemEventStore(1)
	rec, svc := newTestRecorder(db)

	tok := svc.Issue(1, 1, domain.EventOpen)
	for i := 0; i < 2; i++ {
		if _, err := rec.Record(context.Background(), tok, "", RequestMeta{}); err != nil {
			t.Fatalf("Record #%d: %v", i+1, err)
		}
	}
	if len(db.events) != 2 {
		t.Fatalf("events = %d, want 2 (opens are additive)", len(db.events))
	}
}

func TestRecordRejectsInvalidToken(t *testing.T) {
	db := newMemEventStore(1)
	rec, _ := newTestRecorder(db)

	_, err := rec.Record(context.Background(), "garbage", "", RequestMeta{})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if len(db.events) != 0 {
		t.Error("event recorded for invalid token")
	}
}

func TestRecordRejectsUnknownAttempt(t *testing.T) {
	db := newMemEventStore()
	rec, svc := newTestRecorder(db)

	tok := svc.Issue(999, 1, domain.EventOpen)
	_, err := rec.Record(context.Background(), tok, "", RequestMeta{})
	if !errors.Is(err, ErrUnknownAttempt) {
		t.Fatalf("err = %v, want ErrUnknownAttempt", err)
	}
	if len(db.events) != 0 {
		t.Error("event recorded for unknown attempt")
	}
}
