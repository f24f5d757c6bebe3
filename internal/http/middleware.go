package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
)

const requestIDHeader = "X-Request-ID"

// requestIDKey is an unexported context key type for the per-request id.
type requestIDKey struct{}

// RequestID returns the id Logging assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logging returns a middleware that logs HTTP requests and responses.
// Each request gets an X-Request-ID (the caller's, when it sent a valid one).
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(requestIDHeader)
			if _, err := uuid.Parse(reqID); err != nil {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))

			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", reqID),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// browserRequestKey is an unexported context key type for browser request detection.
type browserRequestKey struct{}

// BrowserDetection returns a middleware that detects browser requests vs API requests.
// It sets a context value that can be used by downstream handlers to determine
// whether to return HTML or JSON responses.
func BrowserDetection() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			isBrowser := isBrowserRequest(r)
			ctx := context.WithValue(r.Context(), browserRequestKey{}, isBrowser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsBrowserRequest returns true if the current request is from a browser.
func IsBrowserRequest(r *http.Request) bool {
	if val := r.Context().Value(browserRequestKey{}); val != nil {
		if isBrowser, ok := val.(bool); ok {
			return isBrowser
		}
	}
	// Fallback to direct detection if middleware wasn't used
	return isBrowserRequest(r)
}

// isBrowserRequest determines if a request is from a browser based on:
// 1. Path prefix - API routes start with /api/
// 2. Accept header - browsers typically accept text/html
// 3. HTMX requests are considered browser requests.
func isBrowserRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/static/") {
		return false
	}

	if IsHTMX(r) {
		return true
	}

	accept := r.Header.Get("Accept")
	if accept == "" {
		// No Accept header, assume browser for non-API routes
		return true
	}
	return strings.Contains(accept, "text/html")
}

// SessionReader is the read side of the session the guard consults.
type SessionReader interface {
	Snapshot() domainauth.Snapshot
}

// GuardOptions configures RequireSession.
type GuardOptions struct {
	Sessions SessionReader
	// Binding limits the session to the browser that signed in. Nil shows it to every client.
	Binding *SessionBinding
	// Pending renders the waiting page for browsers while identity resolution is in flight.
	// Defaults to a minimal self-refreshing page.
	Pending http.Handler
	// RetryAfter is advertised to clients told to come back later.
	RetryAfter time.Duration
	Logger     *slog.Logger
}

// RequireSession returns the route guard. It consults the session snapshot, as seen by the
// requesting client, once per request:
//   - pending: browsers get the waiting page, API callers 503; the route never renders
//   - unauthenticated: browsers get exactly one redirect to the login page, API callers 401
//   - authenticated: the snapshot is stored in the request context and the route renders unchanged
func RequireSession(opts GuardOptions) func(http.Handler) http.Handler {
	if opts.Sessions == nil {
		panic("RequireSession: Sessions is required") //nolint:forbidigo // Fail fast during server setup.
	}
	if opts.RetryAfter < time.Second {
		opts.RetryAfter = time.Second
	}
	if opts.Pending == nil {
		opts.Pending = defaultPendingPage(opts.RetryAfter)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := opts.Binding.View(r, opts.Sessions.Snapshot())
			decision := domainauth.Decide(snap)
			logger.DebugContext(r.Context(), "route guard",
				slog.String("path", r.URL.Path),
				slog.String("decision", decision.String()))

			switch decision {
			case domainauth.GuardWait:
				writePending(w, r, opts)
			case domainauth.GuardRedirect:
				if IsBrowserRequest(r) {
					redirectToLogin(w, r)
					return
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "authentication_required",
					Err:     errors.New("authentication required"),
				})
			case domainauth.GuardRender:
				next.ServeHTTP(w, r.WithContext(SetSessionInContext(r.Context(), snap)))
			}
		})
	}
}

func writePending(w http.ResponseWriter, r *http.Request, opts GuardOptions) {
	retry := strconv.Itoa(int(opts.RetryAfter / time.Second))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", retry)

	if !IsBrowserRequest(r) {
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "session_pending",
			Err:     errors.New("session is being verified"),
		})
		return
	}
	opts.Pending.ServeHTTP(w, r)
}

// defaultPendingPage is used when no renderer-backed waiting page is configured.
func defaultPendingPage(refresh time.Duration) http.Handler {
	seconds := strconv.Itoa(int(refresh / time.Second))
	page := `<!doctype html><html lang="es"><head><meta charset="utf-8">` +
		`<meta http-equiv="refresh" content="` + seconds + `"><title>Cargando…</title></head>` +
		`<body><main class="pending" role="status" aria-live="polite">Cargando…</main></body></html>`
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(page))
	})
}

// AdminOptions configures RequireAdmin.
type AdminOptions struct {
	// Forbidden renders the access denied page for browsers. Defaults to a plain 403.
	Forbidden http.Handler
}

// RequireAdmin admits only administrators. It must run after RequireSession.
func RequireAdmin(opts AdminOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := GetSessionFromContext(r.Context())
			if !ok || !snap.Authenticated() {
				if IsBrowserRequest(r) {
					redirectToLogin(w, r)
					return
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "authentication_required",
					Err:     errors.New("authentication required"),
				})
				return
			}

			if !snap.IsAdmin() {
				if IsBrowserRequest(r) {
					showAccessDenied(w, r, opts.Forbidden)
					return
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "insufficient_permissions",
					Err:     errors.New("insufficient permissions"),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// redirectToLogin sends browsers to the login page with the current URL as redirect_uri.
// Plain navigations get a single 303 with no body; htmx requests get Hx-Redirect instead.
func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	loginURL := LoginURL(redirectPathForRequest(r))

	if IsHTMX(r) {
		SetHXRedirect(w, loginURL)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Location", loginURL)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusSeeOther)
}

// LoginURL builds the login page URL that returns to redirect after signing in.
func LoginURL(redirect string) string {
	redirect = safeRedirectPath(redirect)
	if redirect == PathHome {
		return PathLogin
	}
	q := url.Values{}
	q.Set(redirectParam, redirect)
	return PathLogin + "?" + q.Encode()
}

func redirectPathForRequest(r *http.Request) string {
	if IsHTMX(r) {
		if current := safeRedirectFromURL(r.Header.Get("Hx-Current-Url")); current != "" {
			return current
		}
		if referer := safeRedirectFromURL(r.Header.Get("Referer")); referer != "" {
			return referer
		}
	}
	return safeRedirectPath(r.URL.RequestURI())
}

func safeRedirectFromURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	// Reject scheme-relative or host-only references.
	if u.Host != "" && !u.IsAbs() {
		return ""
	}

	// For absolute URLs, use just the path/query portion to keep redirects within the app.
	if u.IsAbs() {
		return safeRedirectPath(u.RequestURI())
	}

	return safeRedirectPath(raw)
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
// The login page itself is never a redirect target.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return PathHome
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") ||
		strings.HasPrefix(candidate, "//") || strings.Contains(candidate, `\`) {
		return PathHome
	}
	if u.Path == PathLogin || u.Path == PathLogout {
		return PathHome
	}
	return candidate
}

// showAccessDenied shows the access denied page for browser requests.
func showAccessDenied(w http.ResponseWriter, r *http.Request, page http.Handler) {
	if page != nil {
		page.ServeHTTP(w, r)
		return
	}
	http.Error(w, "Acceso denegado: no tienes permisos para ver esta página", http.StatusForbidden)
}
