package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/httpretry"
)

// memIntegrations is an in-memory IntegrationStore.
type memIntegrations struct {
	list []domain.Integration
}

func (m *memIntegrations) ActiveIntegrations(context.Context) ([]domain.Integration, error) {
	var out []domain.Integration
	for _, in := range m.list {
		if in.Active {
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *memIntegrations) GetIntegration(_ context.Context, id int64) (*domain.Integration, error) {
	for i := range m.list {
		if m.list[i].ID == id {
			return &m.list[i], nil
		}
	}
	return nil, errors.New("not found")
}

// memAttempts records outcome writes.
type memAttempts struct {
	mu      sync.Mutex
	sent    map[int64]string
	errored map[int64]string
}

func newMemAttempts() *memAttempts {
	return &memAttempts{sent: map[int64]string{}, errored: map[int64]string{}}
}

func (m *memAttempts) MarkAttemptSent(_ context.Context, id int64, _ domain.ChannelKind, messageID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[id] = messageID
	return nil
}

func (m *memAttempts) MarkAttemptError(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errored[id] = reason
	return nil
}

// fakeSender scripts one integration's behavior and counts calls.
type fakeSender struct {
	name  string
	fail  bool
	calls int
}

func (f *fakeSender) Send(_ context.Context, _ *domain.OutboundEmail) (*domain.SendResult, error) {
	f.calls++
	if f.fail {
		return nil, errors.New(f.name + " unreachable")
	}
	return &domain.SendResult{Success: true, MessageID: "msg-" + f.name, Channel: domain.ChannelSMTP}, nil
}

func integration(id int64, name string, priority int) domain.Integration {
	return domain.Integration{
		ID: id, Name: name, Kind: domain.ChannelSMTP,
		Settings: []byte(`{"host":"mx.example"}`),
		Priority: priority, Active: true,
	}
}

func newTestRegistry(store *memIntegrations, attempts *memAttempts, senders map[string]*fakeSender) *Registry {
	r := NewRegistry(store, attempts, nil, time.Second)
	r.build = func(in domain.Integration, _ httpretry.Doer) (Sender, error) {
		s, ok := senders[in.Name]
		if !ok {
			return nil, errors.New("no sender scripted for " + in.Name)
		}
		return s, nil
	}
	return r
}

func TestDispatchFirstSuccessShortCircuits(t *testing.T) {
	store := &memIntegrations{list: []domain.Integration{
		integration(1, "a", 1),
		integration(2, "b", 2),
		integration(3, "c", 3),
	}}
	attempts := newMemAttempts()
	senders := map[string]*fakeSender{
		"a": {name: "a", fail: true},
		"b": {name: "b"},
		"c": {name: "c"},
	}
	r := newTestRegistry(store, attempts, senders)

	result, err := r.Dispatch(context.Background(), &domain.OutboundEmail{AttemptID: 10, To: "x@y.example"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.MessageID != "msg-b" {
		t.Errorf("message id = %q", result.MessageID)
	}
	if senders["a"].calls != 1 || senders["b"].calls != 1 {
		t.Errorf("calls a=%d b=%d", senders["a"].calls, senders["b"].calls)
	}
	if senders["c"].calls != 0 {
		t.Error("third channel tried after success")
	}
	if attempts.sent[10] != "msg-b" {
		t.Errorf("attempt outcome = %+v", attempts.sent)
	}
}

func TestDispatchExhaustionMarksError(t *testing.T) {
	store := &memIntegrations{list: []domain.Integration{
		integration(1, "a", 1),
		integration(2, "b", 2),
	}}
	attempts := newMemAttempts()
	senders := map[string]*fakeSender{
		"a": {name: "a", fail: true},
		"b": {name: "b", fail: true},
	}
	r := newTestRegistry(store, attempts, senders)

	_, err := r.Dispatch(context.Background(), &domain.OutboundEmail{AttemptID: 11})
	if !errors.Is(err, ErrAllChannelsExhausted) {
		t.Fatalf("err = %v, want ErrAllChannelsExhausted", err)
	}
	if _, ok := attempts.errored[11]; !ok {
		t.Error("attempt not marked error")
	}
	if _, ok := attempts.sent[11]; ok {
		t.Error("attempt marked sent despite exhaustion")
	}
}

func TestDispatchNoActiveIntegrations(t *testing.T) {
	store := &memIntegrations{}
	attempts := newMemAttempts()
	r := newTestRegistry(store, attempts, nil)

	_, err := r.Dispatch(context.Background(), &domain.OutboundEmail{AttemptID: 12})
	if !errors.Is(err, ErrAllChannelsExhausted) {
		t.Fatalf("err = %v", err)
	}
	if attempts.errored[12] != "no active integrations" {
		t.Errorf("reason = %q", attempts.errored[12])
	}
}

func TestDispatchSkipsMisconfiguredIntegration(t *testing.T) {
	store := &memIntegrations{list: []domain.Integration{
		integration(1, "broken", 1),
		integration(2, "good", 2),
	}}
	attempts := newMemAttempts()
	senders := map[string]*fakeSender{"good": {name: "good"}}
	r := newTestRegistry(store, attempts, senders)

	result, err := r.Dispatch(context.Background(), &domain.OutboundEmail{AttemptID: 13})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.MessageID != "msg-good" {
		t.Errorf("message id = %q", result.MessageID)
	}
}

func TestDispatchFillsSenderIdentity(t *testing.T) {
	in := integration(1, "a", 1)
	in.FromName = "Postwave"
	in.FromEmail = "no-reply@pw.example"
	store := &memIntegrations{list: []domain.Integration{in}}
	attempts := newMemAttempts()

	var got domain.OutboundEmail
	r := NewRegistry(store, attempts, nil, time.Second)
	r.build = func(domain.Integration, httpretry.Doer) (Sender, error) {
		return senderFunc(func(_ context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error) {
			got = *msg
			return &domain.SendResult{Success: true, MessageID: "m", Channel: domain.ChannelSMTP}, nil
		}), nil
	}

	if _, err := r.Dispatch(context.Background(), &domain.OutboundEmail{AttemptID: 14}); err != nil {
		t.Fatal(err)
	}
	if got.FromEmail != "no-reply@pw.example" || got.FromName != "Postwave" {
		t.Errorf("sender identity not filled: %+v", got)
	}
}

type senderFunc func(context.Context, *domain.OutboundEmail) (*domain.SendResult, error)

func (f senderFunc) Send(ctx context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error) {
	return f(ctx, msg)
}
