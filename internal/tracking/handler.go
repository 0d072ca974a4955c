package tracking

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the public tracking endpoints. Every failure path is
// non-revealing: the pixel is always served and clicks always redirect
// when a sane destination is present.
type Handler struct {
	rec *Recorder
}

// NewHandler creates a Handler.
func NewHandler(rec *Recorder) *Handler {
	return &Handler{rec: rec}
}

// Routes mounts the tracking endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/pixel/{token}", h.HandlePixel)
	r.Get("/click/{token}", h.HandleClick)
	r.Post("/resp/{token}", h.HandleResponse)
	return r
}

// HandlePixel records an open and serves the pixel. Invalid tokens get
// the same pixel with nothing recorded.
func (h *Handler) HandlePixel(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	meta := RequestMeta{IP: realIP(r), UserAgent: r.UserAgent()}

	claims, err := h.rec.Record(r.Context(), tok, "", meta)
	if err == nil && claims.Event == domain.EventOpen {
		logger.Debug("open recorded", "attempt", claims.AttemptID)
	}
	h.servePixel(w)
}

// HandleClick records a click and redirects to the destination carried
// in the url query parameter.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	dest := r.URL.Query().Get("url")
	meta := RequestMeta{IP: realIP(r), UserAgent: r.UserAgent()}

	claims, err := h.rec.Record(r.Context(), tok, dest, meta)
	if err == nil && claims.Event == domain.EventClick {
		logger.Debug("click recorded", "attempt", claims.AttemptID)
	}

	if !validDestination(dest) {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// HandleResponse records a reply-style interaction.
func (h *Handler) HandleResponse(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	meta := RequestMeta{IP: realIP(r), UserAgent: r.UserAgent()}

	claims, err := h.rec.Record(r.Context(), tok, "", meta)
	if err == nil && claims.Event == domain.EventResponse {
		logger.Debug("response recorded", "attempt", claims.AttemptID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// validDestination accepts absolute http(s) URLs only, so the redirect
// cannot be turned into a javascript: trampoline.
func validDestination(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
