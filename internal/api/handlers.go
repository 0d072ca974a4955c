package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/httputil"
	"github.com/postwave/postwave/internal/segment"
	"github.com/postwave/postwave/internal/store"
)

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type previewRequest struct {
	HTML string            `json:"html"`
	CSS  string            `json:"css"`
	Data map[string]string `json:"data"`
}

type previewResponse struct {
	Subject   string   `json:"subject,omitempty"`
	HTML      string   `json:"html"`
	Variables []string `json:"variables"`
}

// handlePreviewTemplate renders a stored template with caller data,
// without tracking instrumentation.
func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid template id")
		return
	}
	var req previewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	tmpl, err := s.db.GetTemplate(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	subject, html := s.renderer.RenderTemplate(*tmpl, req.Data)
	httputil.OK(w, previewResponse{
		Subject:   subject,
		HTML:      html,
		Variables: s.renderer.Variables(tmpl.Subject + tmpl.HTML),
	})
}

// handlePreviewHTML renders ad-hoc HTML without storing anything.
func (s *Server) handlePreviewHTML(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.HTML == "" {
		httputil.BadRequest(w, "html is required")
		return
	}

	tmpl := domain.Template{HTML: req.HTML, CSS: req.CSS}
	_, html := s.renderer.RenderTemplate(tmpl, req.Data)
	httputil.OK(w, previewResponse{
		HTML:      html,
		Variables: s.renderer.Variables(req.HTML),
	})
}

type resolveRequest struct {
	Criteria domain.Criteria `json:"criteria"`
}

type resolveResponse struct {
	Count    int              `json:"count"`
	Contacts []domain.Contact `json:"contacts"`
}

// handleResolveSegment previews inline criteria against the live
// contact base.
func (s *Server) handleResolveSegment(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	contacts, err := s.resolver.Resolve(r.Context(), req.Criteria)
	if err != nil {
		if errors.Is(err, segment.ErrInvalidCriteria) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, resolveResponse{Count: len(contacts), Contacts: contacts})
}

// handleCountSegment reports how many contacts inline criteria match,
// without loading the rows.
func (s *Server) handleCountSegment(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	n, err := s.resolver.Count(r.Context(), req.Criteria)
	if err != nil {
		if errors.Is(err, segment.ErrInvalidCriteria) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"count": n})
}

// handleSegmentContacts resolves a stored segment's current
// membership. Membership is send-time; this is a preview of what a
// dispatch right now would target.
func (s *Server) handleSegmentContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid segment id")
		return
	}

	seg, err := s.db.GetSegment(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "segment not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	contacts, err := s.resolver.Resolve(r.Context(), seg.Criteria)
	if err != nil {
		if errors.Is(err, segment.ErrInvalidCriteria) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, resolveResponse{Count: len(contacts), Contacts: contacts})
}

type scheduleStatusResponse struct {
	Schedule domain.Schedule `json:"schedule"`
	Attempts struct {
		Total   int `json:"total"`
		Pending int `json:"pending"`
		Sent    int `json:"sent"`
		Error   int `json:"error"`
	} `json:"attempts"`
}

func (s *Server) handleScheduleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid schedule id")
		return
	}

	sch, err := s.db.GetSchedule(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "schedule not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	attempts, err := s.db.AttemptsBySchedule(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	resp := scheduleStatusResponse{Schedule: *sch}
	resp.Attempts.Total = len(attempts)
	for _, a := range attempts {
		switch a.Status {
		case domain.AttemptPending:
			resp.Attempts.Pending++
		case domain.AttemptSent:
			resp.Attempts.Sent++
		case domain.AttemptError:
			resp.Attempts.Error++
		}
	}
	httputil.OK(w, resp)
}

func (s *Server) handleScheduleAttempts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid schedule id")
		return
	}

	attempts, err := s.db.AttemptsBySchedule(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"attempts": attempts})
}

func (s *Server) handleScheduleMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid schedule id")
		return
	}

	metrics, err := s.db.ScheduleMetrics(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, metrics)
}

// handleIntegrationTest probes an integration's connectivity without
// sending mail.
func (s *Server) handleIntegrationTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.BadRequest(w, "invalid integration id")
		return
	}

	if err := s.registry.Test(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "integration not found")
			return
		}
		httputil.OK(w, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	httputil.OK(w, map[string]any{"ok": true})
}

type sendTestRequest struct {
	TemplateID int64             `json:"template_id"`
	To         string            `json:"to"`
	Data       map[string]string `json:"data"`
}

// handleSendTest renders a template with sample data and dispatches a
// single message outside any schedule. The delivery is recorded as a
// detached attempt so tracking still works.
func (s *Server) handleSendTest(w http.ResponseWriter, r *http.Request) {
	var req sendTestRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.To == "" || req.TemplateID == 0 {
		httputil.BadRequest(w, "template_id and to are required")
		return
	}

	tmpl, err := s.db.GetTemplate(r.Context(), req.TemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	data := map[string]string{"name": "Test Recipient", "email": req.To}
	for k, v := range req.Data {
		data[k] = v
	}

	attemptID, err := s.db.CreateDetachedAttempt(r.Context(), 0, req.To, s.now())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	subject, html := s.renderer.RenderTemplate(*tmpl, data)
	html = s.injector.Instrument(html, attemptID, 0)

	result, err := s.registry.Dispatch(r.Context(), &domain.OutboundEmail{
		AttemptID: attemptID,
		To:        req.To,
		Subject:   subject,
		HTML:      html,
	})
	if err != nil {
		httputil.OK(w, map[string]any{"ok": false, "attempt_id": attemptID, "error": err.Error()})
		return
	}
	httputil.OK(w, map[string]any{"ok": true, "attempt_id": attemptID, "message_id": result.MessageID})
}
