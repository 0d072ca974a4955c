// Package dispatch drives campaign schedules from pending to a
// terminal state: claiming due schedules, resolving their segments,
// fanning out per-contact deliveries, and resuming schedules a crashed
// worker left behind.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/postwave/postwave/internal/channel"
	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/distlock"
	"github.com/postwave/postwave/internal/pkg/logger"
	"github.com/postwave/postwave/internal/store"
	"github.com/postwave/postwave/internal/template"
	"github.com/postwave/postwave/internal/tracking"
)

// Clock abstracts time for deterministic scheduler tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is the persistence surface the scheduler needs.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	StuckSchedules(ctx context.Context, cutoff time.Time) ([]domain.Schedule, error)
	MarkScheduleSending(ctx context.Context, id int64, now time.Time) error
	MarkScheduleSent(ctx context.Context, id int64, now time.Time) error
	MarkScheduleError(ctx context.Context, id int64, reason string, now time.Time) error
	GetSegment(ctx context.Context, id int64) (*domain.Segment, error)
	GetTemplate(ctx context.Context, id int64) (*domain.Template, error)
	CreateAttempt(ctx context.Context, scheduleID, contactID int64, email string, now time.Time) (int64, error)
	AttemptedContactIDs(ctx context.Context, scheduleID int64) (map[int64]bool, error)
	GetAttempt(ctx context.Context, id int64) (*domain.DeliveryAttempt, error)
}

// Resolver resolves criteria into contacts.
type Resolver interface {
	Resolve(ctx context.Context, criteria domain.Criteria) ([]domain.Contact, error)
}

// Dispatcher sends one finished message and records its outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error)
}

// LockFactory builds a distributed lock for a key.
type LockFactory func(key string) distlock.Lock

// Options tunes the Scheduler.
type Options struct {
	PollInterval   time.Duration
	WorkerCount    int
	ReconcileAfter time.Duration
}

func (o *Options) fill() {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 8
	}
	if min := 2 * o.PollInterval; o.ReconcileAfter < min {
		o.ReconcileAfter = min
	}
	if o.ReconcileAfter < 5*time.Minute {
		o.ReconcileAfter = 5 * time.Minute
	}
}

// Scheduler owns every schedule status transition. Attempt outcomes
// belong to the channel Registry; the scheduler only creates pending
// attempt rows and fans deliveries out.
type Scheduler struct {
	db       Store
	resolver Resolver
	renderer *template.Renderer
	injector *tracking.Injector
	registry Dispatcher
	locks    LockFactory
	clock    Clock
	opts     Options
}

// New creates a Scheduler.
func New(db Store, resolver Resolver, renderer *template.Renderer, injector *tracking.Injector,
	registry Dispatcher, locks LockFactory, opts Options) *Scheduler {
	opts.fill()
	return &Scheduler{
		db:       db,
		resolver: resolver,
		renderer: renderer,
		injector: injector,
		registry: registry,
		locks:    locks,
		clock:    realClock{},
		opts:     opts,
	}
}

// SetClock swaps the time source, used by tests.
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

// Run ticks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("dispatch scheduler started",
		"poll_interval", s.opts.PollInterval, "workers", s.opts.WorkerCount)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("dispatch scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick reconciles stuck schedules, then processes due ones. Each
// schedule is claimed under a distributed lock so concurrent workers
// never double-fire.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()

	stuck, err := s.db.StuckSchedules(ctx, now.Add(-s.opts.ReconcileAfter))
	if err != nil {
		return fmt.Errorf("list stuck schedules: %w", err)
	}
	for _, sch := range stuck {
		s.withLock(ctx, sch.ID, func() {
			logger.Warn("resuming stuck schedule", "schedule", sch.ID, "started_at", sch.StartedAt)
			s.process(ctx, sch, true)
		})
	}

	due, err := s.db.DueSchedules(ctx, now)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	for _, sch := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.withLock(ctx, sch.ID, func() {
			s.process(ctx, sch, false)
		})
	}
	return nil
}

func (s *Scheduler) withLock(ctx context.Context, scheduleID int64, fn func()) {
	lock := s.locks(fmt.Sprintf("schedule:%d", scheduleID))
	ok, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("lock acquire failed", "schedule", scheduleID, "error", err)
		return
	}
	if !ok {
		return
	}
	defer lock.Release(ctx)
	fn()
}

// process runs one schedule to a terminal state. resume skips contacts
// that already have attempt rows from an interrupted run.
func (s *Scheduler) process(ctx context.Context, sch domain.Schedule, resume bool) {
	now := s.clock.Now()

	if !resume {
		err := s.db.MarkScheduleSending(ctx, sch.ID, now)
		if errors.Is(err, store.ErrConflict) {
			return
		}
		if err != nil {
			logger.Error("claim schedule failed", "schedule", sch.ID, "error", err)
			return
		}
	}

	criteria := sch.Criteria
	if sch.SegmentID != 0 {
		seg, err := s.db.GetSegment(ctx, sch.SegmentID)
		if err != nil {
			s.fail(ctx, sch.ID, fmt.Sprintf("load segment %d: %v", sch.SegmentID, err))
			return
		}
		criteria = seg.Criteria
	}

	contacts, err := s.resolver.Resolve(ctx, criteria)
	if err != nil {
		s.fail(ctx, sch.ID, fmt.Sprintf("resolve segment: %v", err))
		return
	}

	tmpl, err := s.db.GetTemplate(ctx, sch.TemplateID)
	if err != nil {
		s.fail(ctx, sch.ID, fmt.Sprintf("load template %d: %v", sch.TemplateID, err))
		return
	}

	skip := map[int64]bool{}
	if resume {
		skip, err = s.db.AttemptedContactIDs(ctx, sch.ID)
		if err != nil {
			logger.Error("load attempted contacts failed", "schedule", sch.ID, "error", err)
			skip = map[int64]bool{}
		}
	}

	s.fanOut(ctx, sch, *tmpl, contacts, skip)

	if err := s.db.MarkScheduleSent(ctx, sch.ID, s.clock.Now()); err != nil && !errors.Is(err, store.ErrConflict) {
		logger.Error("finish schedule failed", "schedule", sch.ID, "error", err)
		return
	}
	logger.Info("schedule finished", "schedule", sch.ID, "contacts", len(contacts), "resumed", resume)
}

// fanOut delivers to every unskipped contact over a bounded pool.
// Per-contact failures are contained; they never abort the schedule.
func (s *Scheduler) fanOut(ctx context.Context, sch domain.Schedule, tmpl domain.Template,
	contacts []domain.Contact, skip map[int64]bool) {

	jobs := make(chan domain.Contact)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for contact := range jobs {
				s.deliverContact(ctx, sch, tmpl, contact)
			}
		}()
	}

	for _, contact := range contacts {
		if skip[contact.ID] {
			continue
		}
		select {
		case jobs <- contact:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()
}

func (s *Scheduler) deliverContact(ctx context.Context, sch domain.Schedule, tmpl domain.Template, contact domain.Contact) {
	attemptID, err := s.db.CreateAttempt(ctx, sch.ID, contact.ID, contact.Email, s.clock.Now())
	if errors.Is(err, store.ErrDuplicateAttempt) {
		// Another worker holds this contact.
		return
	}
	if err != nil {
		logger.Error("create attempt failed", "schedule", sch.ID, "contact", contact.ID, "error", err)
		return
	}

	if err := s.DeliverAttempt(ctx, attemptID, sch, contact, tmpl); err != nil {
		// The registry already recorded the outcome; nothing else to do.
		logger.Warn("delivery failed", "attempt", attemptID, "contact_email", contact.Email, "error", err)
	}
}

// DeliverAttempt renders, instruments, and dispatches one attempt. It
// is idempotent: redelivered jobs whose attempt already reached a
// terminal state are no-ops, which makes it safe behind an
// at-least-once queue.
func (s *Scheduler) DeliverAttempt(ctx context.Context, attemptID int64, sch domain.Schedule, contact domain.Contact, tmpl domain.Template) error {
	attempt, err := s.db.GetAttempt(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("load attempt %d: %w", attemptID, err)
	}
	if attempt.Status.Terminal() {
		return nil
	}

	// Schedule defaults sit under contact data; a blank contact field
	// falls through to the schedule's value.
	data := make(map[string]string, len(sch.DefaultData)+4)
	for k, v := range sch.DefaultData {
		data[k] = v
	}
	for k, v := range template.ContactData(contact) {
		if v != "" {
			data[k] = v
		}
	}

	subject, html := s.renderer.RenderTemplate(tmpl, data)
	if sch.Subject != "" {
		subject = s.renderer.Render(sch.Subject, data)
	}
	html = s.injector.Instrument(html, attemptID, contact.ID)

	msg := &domain.OutboundEmail{
		AttemptID: attemptID,
		ContactID: contact.ID,
		To:        contact.Email,
		ToName:    contact.Name,
		Subject:   subject,
		HTML:      html,
		Headers: map[string]string{
			"X-Postwave-Response": s.injector.ResponseToken(attemptID, contact.ID),
		},
	}

	if _, err := s.registry.Dispatch(ctx, msg); err != nil {
		if errors.Is(err, channel.ErrAllChannelsExhausted) {
			return err
		}
		return fmt.Errorf("dispatch attempt %d: %w", attemptID, err)
	}
	return nil
}

func (s *Scheduler) fail(ctx context.Context, scheduleID int64, reason string) {
	logger.Error("schedule failed", "schedule", scheduleID, "reason", reason)
	if err := s.db.MarkScheduleError(ctx, scheduleID, reason, s.clock.Now()); err != nil && !errors.Is(err, store.ErrConflict) {
		logger.Error("mark schedule error failed", "schedule", scheduleID, "error", err)
	}
}
