package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	backoffice "github.com/target/congress-backoffice"
)

// Paths of the frontend tree relative to the repository root, used in dev mode.
const (
	TemplatePathFromRoot = "frontend/templates"
	StaticPathFromRoot   = "frontend/static"
)

// RouterServices holds the dependencies for NewRouter.
type RouterServices struct {
	Sessions     SessionReader
	Auth         SignInService
	CookieDomain string
	// SessionSecret signs the browser session cookie; random per process when empty.
	SessionSecret []byte
	SessionMaxAge time.Duration
	// PendingRefresh is the waiting page reload interval and the advertised Retry-After.
	PendingRefresh time.Duration
	IsDev          bool         // Development mode: templates and static files are read from disk
	Logger         *slog.Logger // Logger for template and HTTP errors (optional)

	// TemplateFS overrides the template source (tests).
	TemplateFS fs.FS
}

// NewRouter builds the HTTP handler for the back-office.
func NewRouter(services RouterServices) (http.Handler, error) {
	if services.Sessions == nil {
		return nil, errors.New("router: Sessions is required")
	}
	if services.Auth == nil {
		return nil, errors.New("router: Auth is required")
	}
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	binding, err := NewSessionBinding(SessionBindingConfig{
		Secret:       services.SessionSecret,
		MaxAge:       services.SessionMaxAge,
		CookieDomain: services.CookieDomain,
	})
	if err != nil {
		return nil, fmt.Errorf("session binding: %w", err)
	}

	templateFS, err := templateSource(services)
	if err != nil {
		return nil, err
	}
	tr, err := NewTemplateRenderer(TemplateRendererConfig{TemplateFS: templateFS, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("create template renderer: %w", err)
	}

	uiHandlers := &UIHandlers{
		T:              tr,
		PendingRefresh: services.PendingRefresh,
		IsDev:          services.IsDev,
		Logger:         logger,
	}
	authHandlers := &AuthHandlers{
		Svc:      services.Auth,
		Sessions: services.Sessions,
		Binding:  binding,
		T:        tr,
		Logger:   logger,
	}

	mux := http.NewServeMux()
	health := healthHandler(services.Sessions)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	static, err := staticHandler(services.IsDev)
	if err != nil {
		return nil, err
	}
	mux.Handle("GET /static/", static)

	cfg := uiRouteConfig{
		CookieDomain: services.CookieDomain,
		Guard: GuardOptions{
			Sessions:   services.Sessions,
			Binding:    binding,
			Pending:    http.HandlerFunc(uiHandlers.Pending),
			RetryAfter: services.PendingRefresh,
			Logger:     logger.With("component", "guard"),
		},
		Admin: AdminOptions{Forbidden: http.HandlerFunc(uiHandlers.Forbidden)},
	}
	registerAuthRoutes(mux, authHandlers, cfg)
	registerUIRoutes(mux, uiHandlers, cfg)

	handler := &notFoundHandler{
		mux:        mux,
		uiHandlers: uiHandlers,
	}

	return BrowserDetection()(handler), nil
}

func templateSource(services RouterServices) (fs.FS, error) {
	if services.TemplateFS != nil {
		return services.TemplateFS, nil
	}
	if services.IsDev {
		return os.DirFS(TemplatePathFromRoot), nil
	}
	sub, err := fs.Sub(backoffice.TemplateFS, TemplatePathFromRoot)
	if err != nil {
		return nil, fmt.Errorf("embedded templates: %w", err)
	}
	return sub, nil
}

func staticHandler(isDev bool) (http.Handler, error) {
	if isDev {
		return staticWithCacheHeaders(http.StripPrefix("/static/", http.FileServer(http.Dir(StaticPathFromRoot)))), nil
	}
	staticSub, err := fs.Sub(backoffice.StaticFS, StaticPathFromRoot)
	if err != nil {
		return nil, fmt.Errorf("embedded static assets: %w", err)
	}
	return staticWithCacheHeaders(http.StripPrefix("/static/", http.FileServer(http.FS(staticSub)))), nil
}

// hashedFilePattern matches content-hashed filenames (e.g. app.abc12345.css).
var hashedFilePattern = regexp.MustCompile(`\.[a-f0-9]{8}\.(?:js|css)(?:\.map)?$`)

// staticWithCacheHeaders wraps a static file handler to add appropriate cache headers.
func staticWithCacheHeaders(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hashedFilePattern.MatchString(r.URL.Path) {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}
		handler.ServeHTTP(w, r)
	})
}

type uiRouteConfig struct {
	CookieDomain string
	Guard        GuardOptions
	Admin        AdminOptions
}

// csrfWrap issues the CSRF cookie and checks it on state-changing requests.
func (cfg uiRouteConfig) csrfWrap() func(http.Handler) http.Handler {
	return CSRFProtection(CSRFConfig{CookieDomain: cfg.CookieDomain})
}

// sessionWrap guards a route behind the session; the CSRF token stays available to its templates.
func (cfg uiRouteConfig) sessionWrap() func(http.Handler) http.Handler {
	csrf := cfg.csrfWrap()
	guard := RequireSession(cfg.Guard)
	return func(h http.Handler) http.Handler {
		return csrf(guard(h))
	}
}

func (cfg uiRouteConfig) adminWrap() func(http.Handler) http.Handler {
	session := cfg.sessionWrap()
	roleCheck := RequireAdmin(cfg.Admin)
	return func(h http.Handler) http.Handler {
		return session(roleCheck(h))
	}
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, cfg uiRouteConfig) {
	csrf := cfg.csrfWrap()
	mux.Handle("GET "+PathLogin, csrf(http.HandlerFunc(h.LoginPage)))
	mux.Handle("POST "+PathLogin, csrf(http.HandlerFunc(h.LoginSubmit)))
	mux.Handle("POST "+PathLogout, csrf(http.HandlerFunc(h.Logout)))
	mux.HandleFunc("GET "+PathAuthStatus, h.Status)
}

func registerUIRoutes(mux *http.ServeMux, h *UIHandlers, cfg uiRouteConfig) {
	wrap := cfg.sessionWrap()
	mux.Handle("GET /{$}", wrap(http.HandlerFunc(h.Dashboard)))
	mux.Handle("GET /profile", wrap(http.HandlerFunc(h.Profile)))
	mux.Handle("GET /api/session", RequireSession(cfg.Guard)(http.HandlerFunc(h.SessionAPI)))

	wrapAdmin := cfg.adminWrap()
	mux.Handle("GET /admin", wrapAdmin(http.HandlerFunc(h.Admin)))
}

// notFoundHandler wraps a ServeMux and provides custom 404 handling.
type notFoundHandler struct {
	mux        *http.ServeMux
	uiHandlers *UIHandlers
}

// ServeHTTP implements http.Handler and provides custom 404 handling.
func (h *notFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw := newCaptureWriter(w)
	h.mux.ServeHTTP(cw, r)

	if cw.status == http.StatusNotFound && cw.header.Get("Content-Type") != "application/json" {
		// For missing static assets, preserve the default file server response
		if strings.HasPrefix(r.URL.Path, "/static/") {
			cw.flushTo(w)
			return
		}
		h.uiHandlers.NotFound(w, r)
		return
	}

	cw.flushTo(w)
}

// captureWriter buffers headers, status and body so we can decide post-dispatch.
type captureWriter struct {
	rw     http.ResponseWriter
	header http.Header
	status int
	buf    bytes.Buffer
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{rw: w, header: make(http.Header), status: http.StatusOK}
}

func (c *captureWriter) Header() http.Header         { return c.header }
func (c *captureWriter) WriteHeader(code int)        { c.status = code }
func (c *captureWriter) Write(b []byte) (int, error) { return c.buf.Write(b) }

func (c *captureWriter) flushTo(w http.ResponseWriter) {
	for k, vs := range c.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(c.status)
	if _, err := w.Write(c.buf.Bytes()); err != nil {
		slog.Debug("failed to write captured response", slog.Any("error", err))
	}
}
