package httpx

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Names under which the CSRF token travels. The form field and the cookie share a name so
// the login and logout templates stay plain HTML.
const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-Csrf-Token"
	csrfFieldName  = CSRFCookieName

	csrfTokenBytes    = 32
	defaultCSRFMaxAge = 12 * time.Hour
)

// CSRFConfig configures CSRFProtection.
type CSRFConfig struct {
	CookieDomain string
	// MaxAge is the cookie lifetime. Defaults to 12 hours.
	MaxAge time.Duration
}

// csrfState is the per-request token. RotateCSRFToken replaces it in place so templates
// rendered later in the same request embed the new value.
type csrfState struct {
	token string
	cfg   CSRFConfig
}

type csrfStateKey struct{}

// CSRFProtection checks a double-submit token on form posts. The token is issued as a
// cookie on first contact and must come back in the X-Csrf-Token header or the csrf_token
// form field. JSON bodies are exempt: browsers cannot send them cross-origin without a
// CORS preflight, which this server never grants.
func CSRFProtection(cfg CSRFConfig) func(http.Handler) http.Handler {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultCSRFMaxAge
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &csrfState{cfg: cfg}
			if c, err := r.Cookie(CSRFCookieName); err == nil {
				state.token = c.Value
			}
			expected := state.token

			if state.token == "" {
				if err := state.issue(w, r); err != nil {
					http.Error(w, "unable to generate CSRF token", http.StatusInternalServerError)
					return
				}
			}

			if mutatesState(r.Method) && !isJSONRequest(r) && !submittedToken(r, expected) {
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "csrf_failed",
					Err:     errors.New("CSRF token validation failed"),
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfStateKey{}, state)))
		})
	}
}

// RotateCSRFToken issues a fresh token for the rest of this request and the browser.
// Handlers call it when the signed-in operator changes.
func RotateCSRFToken(w http.ResponseWriter, r *http.Request) error {
	state, ok := r.Context().Value(csrfStateKey{}).(*csrfState)
	if !ok {
		return nil
	}
	return state.issue(w, r)
}

// GetCSRFToken returns the token templates must embed in their forms.
func GetCSRFToken(r *http.Request) string {
	if state, ok := r.Context().Value(csrfStateKey{}).(*csrfState); ok {
		return state.token
	}
	return ""
}

func (s *csrfState) issue(w http.ResponseWriter, r *http.Request) error {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	s.token = base64.URLEncoding.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    s.token,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		HttpOnly: false, // htmx copies it into the request header
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.cfg.MaxAge / time.Second),
	})
	return nil
}

func mutatesState(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

// submittedToken compares the header, or failing that the form field, against expected.
func submittedToken(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	got := r.Header.Get(CSRFHeaderName)
	if got == "" && isFormRequest(r) {
		got = r.PostFormValue(csrfFieldName)
	}
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

func isFormRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}
