package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// UIHandlers serves browser-facing routes.
type UIHandlers struct {
	T *TemplateRenderer
	// PendingRefresh is how often the waiting page reloads itself.
	PendingRefresh time.Duration
	IsDev          bool // Development mode flag for enhanced error reporting
	Logger         *slog.Logger
}

// logger returns the configured logger or falls back to slog.Default().
func (h *UIHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// PageSpec defines metadata and optional page-specific data.
type PageSpec struct {
	Meta  PageMeta
	Extra map[string]any
}

// Page builds base data, merges the page's own data and renders the full layout.
func (h *UIHandlers) Page(w http.ResponseWriter, r *http.Request, spec PageSpec) {
	b := NewTemplateData(r, spec.Meta)
	for k, v := range spec.Extra {
		b.With(k, v)
	}

	w.Header().Set("Cache-Control", "no-store")
	if err := h.T.RenderFull(w, http.StatusOK, b.Build()); err != nil {
		h.logAndRenderTemplateError(w, r, err, "full page render")
	}
}

// Dashboard renders the landing page of the back-office.
func (h *UIHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.Page(w, r, PageSpec{Meta: PageMeta{
		Title:       "Panel · Backoffice",
		PageTitle:   "Panel",
		CurrentPage: PageDashboard,
	}})
}

// Profile renders the signed-in operator's profile.
func (h *UIHandlers) Profile(w http.ResponseWriter, r *http.Request) {
	h.Page(w, r, PageSpec{Meta: PageMeta{
		Title:       "Mi perfil · Backoffice",
		PageTitle:   "Mi perfil",
		CurrentPage: PageProfile,
	}})
}

// Admin renders the administrators' area. Routed behind RequireAdmin.
func (h *UIHandlers) Admin(w http.ResponseWriter, r *http.Request) {
	h.Page(w, r, PageSpec{Meta: PageMeta{
		Title:       "Administración · Backoffice",
		PageTitle:   "Administración",
		CurrentPage: PageAdmin,
	}})
}

// Pending renders the full-viewport waiting page shown while the session is being verified.
// It must not receive any request-specific data besides the refresh interval.
func (h *UIHandlers) Pending(w http.ResponseWriter, _ *http.Request) {
	refresh := h.PendingRefresh
	if refresh < time.Second {
		refresh = time.Second
	}
	data := map[string]any{
		"Title":          "Cargando…",
		"RefreshSeconds": strconv.Itoa(int(refresh / time.Second)),
	}
	if err := h.T.RenderPending(w, data); err != nil {
		h.logger().Error("failed to render waiting page", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}
}

// Forbidden renders the access denied page.
func (h *UIHandlers) Forbidden(w http.ResponseWriter, r *http.Request) {
	h.renderErrorPage(w, r, errorPage{
		status:  http.StatusForbidden,
		page:    PageForbidden,
		title:   "Acceso denegado",
		message: "No tienes permisos para ver esta página.",
	})
}

// NotFound renders a 404 page for browsers and a JSON error for everything else.
func (h *UIHandlers) NotFound(w http.ResponseWriter, r *http.Request) {
	if !IsBrowserRequest(r) {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "not_found",
			Err:     errors.New("not found"),
		})
		return
	}
	h.renderErrorPage(w, r, errorPage{
		status:  http.StatusNotFound,
		page:    PageNotFound,
		title:   "Página no encontrada",
		message: "La página que buscas no existe.",
	})
}

type errorPage struct {
	status  int
	page    string
	title   string
	message string
}

func (h *UIHandlers) renderErrorPage(w http.ResponseWriter, r *http.Request, p errorPage) {
	data := NewTemplateData(r, PageMeta{Title: p.title, PageTitle: p.title, CurrentPage: p.page}).
		With("Message", p.message).
		With("StatusCode", p.status).
		Build()
	if err := h.T.RenderError(w, p.status, data); err != nil {
		h.logger().Error("failed to render error page", slog.Int("status", p.status), slog.Any("error", err))
		http.Error(w, p.message, p.status)
	}
}

// SessionAPI returns the admitted session as JSON. Routed behind RequireSession.
// GET /api/session.
func (h *UIHandlers) SessionAPI(w http.ResponseWriter, r *http.Request) {
	snap, _ := GetSessionFromContext(r.Context())
	WriteJSON(w, http.StatusOK, newSessionView(snap))
}

func (h *UIHandlers) logAndRenderTemplateError(w http.ResponseWriter, r *http.Request, err error, phase string) {
	h.logger().Error("template error",
		slog.String("phase", phase),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))

	msg := http.StatusText(http.StatusInternalServerError)
	if h.IsDev {
		msg = phase + ": " + err.Error()
	}
	http.Error(w, msg, http.StatusInternalServerError)
}
