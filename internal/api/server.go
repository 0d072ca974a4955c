// Package api assembles the HTTP surface: preview and status endpoints
// for operators, plus the public tracking routes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/template"
	"github.com/postwave/postwave/internal/tracking"
)

// Store is the persistence surface the API reads.
type Store interface {
	GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error)
	AttemptsBySchedule(ctx context.Context, scheduleID int64) ([]domain.DeliveryAttempt, error)
	ScheduleMetrics(ctx context.Context, scheduleID int64) (*domain.ScheduleMetrics, error)
	GetSegment(ctx context.Context, id int64) (*domain.Segment, error)
	GetTemplate(ctx context.Context, id int64) (*domain.Template, error)
	CreateDetachedAttempt(ctx context.Context, contactID int64, email string, now time.Time) (int64, error)
}

// Resolver resolves segment criteria.
type Resolver interface {
	Resolve(ctx context.Context, criteria domain.Criteria) ([]domain.Contact, error)
	Count(ctx context.Context, criteria domain.Criteria) (int, error)
}

// Registry dispatches messages and probes integrations.
type Registry interface {
	Dispatch(ctx context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error)
	Test(ctx context.Context, integrationID int64) error
}

// Server holds the handler dependencies.
type Server struct {
	db       Store
	resolver Resolver
	renderer *template.Renderer
	registry Registry
	injector *tracking.Injector
	trackers *tracking.Handler
	now      func() time.Time
}

// NewServer creates a Server.
func NewServer(db Store, resolver Resolver, renderer *template.Renderer,
	registry Registry, injector *tracking.Injector, trackers *tracking.Handler) *Server {
	return &Server{
		db:       db,
		resolver: resolver,
		renderer: renderer,
		registry: registry,
		injector: injector,
		trackers: trackers,
		now:      time.Now,
	}
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Mount("/tracking", s.trackers.Routes())

	r.Route("/api", func(r chi.Router) {
		r.Post("/preview/template/{id}", s.handlePreviewTemplate)
		r.Post("/preview/html", s.handlePreviewHTML)
		r.Post("/segments/resolve", s.handleResolveSegment)
		r.Post("/segments/count", s.handleCountSegment)
		r.Get("/segments/{id}/contacts", s.handleSegmentContacts)
		r.Get("/schedules/{id}", s.handleScheduleStatus)
		r.Get("/schedules/{id}/attempts", s.handleScheduleAttempts)
		r.Get("/metrics/schedules/{id}", s.handleScheduleMetrics)
		r.Post("/integrations/{id}/test", s.handleIntegrationTest)
		r.Post("/send-test", s.handleSendTest)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
