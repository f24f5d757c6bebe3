package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
	apperrors "github.com/target/congress-backoffice/internal/errors"
	"github.com/target/congress-backoffice/internal/ports"
	"golang.org/x/net/html"
)

func newAuthHandlers(t *testing.T, snap domainauth.Snapshot, svc *stubSignIn) *AuthHandlers {
	t.Helper()
	return &AuthHandlers{
		Svc:      svc,
		Sessions: newStubSessions(snap),
		T:        requireTemplateRenderer(t),
	}
}

func formPost(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html")
	return req
}

func jsonPost(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func alertText(t *testing.T, body string) string {
	t.Helper()
	alerts := findAll(parseHTML(t, body), attrEquals("role", "alert"))
	require.Len(t, alerts, 1, "expected one alert")
	return textOf(alerts[0])
}

func TestAuthHandlers_LoginPage(t *testing.T) {
	h := newAuthHandlers(t, snapAnonymous, &stubSignIn{})

	w := httptest.NewRecorder()
	h.LoginPage(w, browserRequest("/login?redirect_uri=%2Fadmin"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	body := w.Body.String()
	assert.Contains(t, body, "Backoffice Login")
	assert.Contains(t, body, "Introduce tus credenciales para acceder al panel")
	assert.Contains(t, body, "ID (DNI / NIE)")

	doc := parseHTML(t, body)
	redirect := findAll(doc, attrEquals("name", "redirect_uri"))
	require.Len(t, redirect, 1)
	v, _ := attr(redirect[0], "value")
	assert.Equal(t, "/admin", v)
	assert.Empty(t, findAll(doc, attrEquals("role", "alert")))
	assert.Empty(t, findAll(doc, attrEquals("class", "header")), "no navigation for anonymous visitors")
}

func TestAuthHandlers_LoginPage_SanitizesRedirect(t *testing.T) {
	h := newAuthHandlers(t, snapAnonymous, &stubSignIn{})

	w := httptest.NewRecorder()
	h.LoginPage(w, browserRequest("/login?redirect_uri=https%3A%2F%2Fevil.example%2F"))

	redirect := findAll(parseHTML(t, w.Body.String()), attrEquals("name", "redirect_uri"))
	require.Len(t, redirect, 1)
	v, _ := attr(redirect[0], "value")
	assert.Equal(t, "/", v)
}

func TestAuthHandlers_LoginPage_AuthenticatedRedirects(t *testing.T) {
	h := newAuthHandlers(t, snapAdmin, &stubSignIn{})

	w := httptest.NewRecorder()
	h.LoginPage(w, browserRequest("/login?redirect_uri=%2Fprofile"))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/profile", w.Header().Get("Location"))
}

func TestAuthHandlers_LoginSubmit_FormSuccess(t *testing.T) {
	svc := &stubSignIn{}
	h := newAuthHandlers(t, snapAnonymous, svc)

	w := httptest.NewRecorder()
	h.LoginSubmit(w, formPost("/login", url.Values{
		"identifier":   {" 12345678A "},
		"password":     {" secret "},
		"redirect_uri": {"/admin"},
	}))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin", w.Header().Get("Location"))
	require.Len(t, svc.Calls(), 1)
	assert.Equal(t, ports.Credentials{Identifier: "12345678A", Password: " secret "}, svc.Calls()[0])
}

func TestAuthHandlers_LoginSubmit_UnsafeRedirectFallsBackToHome(t *testing.T) {
	h := newAuthHandlers(t, snapAnonymous, &stubSignIn{})

	w := httptest.NewRecorder()
	h.LoginSubmit(w, formPost("/login", url.Values{
		"identifier":   {"a"},
		"password":     {"b"},
		"redirect_uri": {"//evil.example/steal"},
	}))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestAuthHandlers_LoginSubmit_HTMXSuccess(t *testing.T) {
	h := newAuthHandlers(t, snapAnonymous, &stubSignIn{})

	req := formPost("/login", url.Values{"identifier": {"a"}, "password": {"b"}, "redirect_uri": {"/profile"}})
	req.Header.Set("Hx-Request", "true")
	w := httptest.NewRecorder()
	h.LoginSubmit(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/profile", w.Header().Get("Hx-Redirect"))
}

func TestAuthHandlers_LoginSubmit_FormValidation(t *testing.T) {
	svc := &stubSignIn{}
	h := newAuthHandlers(t, snapAnonymous, svc)

	w := httptest.NewRecorder()
	h.LoginSubmit(w, formPost("/login", url.Values{"identifier": {"  "}, "password": {""}}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.Calls())
	body := w.Body.String()
	assert.Contains(t, body, "El ID (DNI / NIE) es obligatorio.")
	assert.Contains(t, body, "La contraseña es obligatoria.")
	assert.Equal(t, msgFixFieldsBelow, alertText(t, body))
}

func TestAuthHandlers_LoginSubmit_FormFailures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "rejected credentials",
			err:         apperrors.Unauthorized(http.StatusUnauthorized, "Credenciales incorrectas"),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Credenciales incorrectas",
		},
		{
			name:        "rejected without message",
			err:         apperrors.Unauthorized(http.StatusUnauthorized, ""),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: msgLoginFailed,
		},
		{
			name:        "backend unreachable",
			err:         apperrors.Wrap(errors.New("dial tcp: refused"), apperrors.ErrCodeUnavailable, "POST /auth/login"),
			wantStatus:  http.StatusServiceUnavailable,
			wantMessage: msgBackendDown,
		},
		{
			name:        "backend error",
			err:         apperrors.Upstream(http.StatusBadGateway, "bad gateway"),
			wantStatus:  http.StatusBadGateway,
			wantMessage: msgLoginFailed,
		},
		{
			name:        "slot failure",
			err:         errors.New("start session: disk full"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: msgLoginFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHandlers(t, snapAnonymous, &stubSignIn{signInErr: tt.err})

			w := httptest.NewRecorder()
			h.LoginSubmit(w, formPost("/login", url.Values{"identifier": {"12345678A"}, "password": {"pw"}}))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantMessage, alertText(t, w.Body.String()))

			identifier := findAll(parseHTML(t, w.Body.String()), attrEquals("name", "identifier"))
			require.Len(t, identifier, 1)
			v, _ := attr(identifier[0], "value")
			assert.Equal(t, "12345678A", v, "identifier is kept for the next attempt")
			assert.NotContains(t, w.Body.String(), `value="pw"`)
		})
	}
}

func TestAuthHandlers_LoginSubmit_JSON(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &stubSignIn{}
		h := newAuthHandlers(t, snapPendingToken, svc)

		w := httptest.NewRecorder()
		h.LoginSubmit(w, jsonPost("/login", `{"id":"12345678A","password":"pw","redirect_uri":"/admin"}`))

		assert.Equal(t, http.StatusAccepted, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "pending", body["state"])
		assert.Equal(t, "/admin", body["redirect"])
		require.Len(t, svc.Calls(), 1)
		assert.Equal(t, "12345678A", svc.Calls()[0].Identifier)
	})

	t.Run("email identifier", func(t *testing.T) {
		svc := &stubSignIn{}
		h := newAuthHandlers(t, snapPendingToken, svc)

		w := httptest.NewRecorder()
		h.LoginSubmit(w, jsonPost("/login", `{"email":"ana@example.org","password":"pw"}`))

		assert.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, svc.Calls(), 1)
		assert.Equal(t, "ana@example.org", svc.Calls()[0].Identifier)
	})

	t.Run("rejected", func(t *testing.T) {
		h := newAuthHandlers(t, snapAnonymous, &stubSignIn{
			signInErr: apperrors.Unauthorized(http.StatusUnauthorized, "Credenciales incorrectas"),
		})

		w := httptest.NewRecorder()
		h.LoginSubmit(w, jsonPost("/login", `{"id":"12345678A","password":"pw"}`))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "invalid_credentials", body["error"])
		assert.Equal(t, "Credenciales incorrectas", body["message"])
	})

	t.Run("validation", func(t *testing.T) {
		svc := &stubSignIn{}
		h := newAuthHandlers(t, snapAnonymous, svc)

		w := httptest.NewRecorder()
		h.LoginSubmit(w, jsonPost("/login", `{"id":"12345678A"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "validation_failed", body["error"])
		fields, ok := body["fields"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, fields, "password")
		assert.Empty(t, svc.Calls())
	})

	t.Run("unknown field", func(t *testing.T) {
		h := newAuthHandlers(t, snapAnonymous, &stubSignIn{})

		w := httptest.NewRecorder()
		h.LoginSubmit(w, jsonPost("/login", `{"id":"a","password":"b","remember":true}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_json", decodeBody(t, w)["error"])
	})
}

func TestAuthHandlers_Logout(t *testing.T) {
	tests := []struct {
		name         string
		headers      map[string]string
		signOutErr   error
		wantStatus   int
		wantLocation string
		wantHX       string
	}{
		{name: "browser", headers: map[string]string{"Accept": "text/html"}, wantStatus: http.StatusSeeOther, wantLocation: PathLogin},
		{name: "htmx", headers: map[string]string{"Hx-Request": "true"}, wantStatus: http.StatusOK, wantHX: PathLogin},
		{name: "ajax", headers: map[string]string{"Accept": "application/json"}, wantStatus: http.StatusNoContent},
		{
			name:         "slot failure still signs out",
			headers:      map[string]string{"Accept": "text/html"},
			signOutErr:   errors.New("remove token: permission denied"),
			wantStatus:   http.StatusSeeOther,
			wantLocation: PathLogin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubSignIn{signOutErr: tt.signOutErr}
			h := newAuthHandlers(t, snapAdmin, svc)

			req := httptest.NewRequest(http.MethodPost, PathLogout, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.Logout(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			assert.Equal(t, tt.wantHX, w.Header().Get("Hx-Redirect"))
			assert.Equal(t, 1, svc.signOuts)
		})
	}
}

func TestAuthHandlers_Status(t *testing.T) {
	tests := []struct {
		name      string
		snap      domainauth.Snapshot
		wantState string
		wantUser  bool
		wantAdmin bool
	}{
		{name: "pending", snap: snapPendingToken, wantState: "pending"},
		{name: "anonymous", snap: domainauth.Snapshot{LastFailure: domainauth.FailureInvalidToken}, wantState: "unauthenticated"},
		{name: "admin", snap: snapAdmin, wantState: "authenticated", wantUser: true, wantAdmin: true},
		{name: "staff", snap: snapStaff, wantState: "authenticated", wantUser: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHandlers(t, tt.snap, &stubSignIn{})

			w := httptest.NewRecorder()
			h.Status(w, apiRequest(PathAuthStatus))

			require.Equal(t, http.StatusOK, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.wantState, body["state"])
			assert.Equal(t, tt.snap.Loading, body["loading"])
			assert.Equal(t, tt.wantAdmin, body["is_admin"])
			assert.Equal(t, tt.wantUser, body["authenticated"])
			if tt.wantUser {
				assert.NotNil(t, body["user"])
			} else {
				assert.Nil(t, body["user"])
			}
			assert.NotContains(t, w.Body.String(), "tok-", "token is never exposed")
		})
	}
}

func TestAuthHandlers_Status_LastFailure(t *testing.T) {
	h := newAuthHandlers(t, domainauth.Snapshot{LastFailure: domainauth.FailureNetwork}, &stubSignIn{})

	w := httptest.NewRecorder()
	h.Status(w, apiRequest(PathAuthStatus))

	assert.Equal(t, "network_error", decodeBody(t, w)["last_failure"])
}

func TestLoginErrorMessage(t *testing.T) {
	assert.Equal(t, "Credenciales incorrectas", loginErrorMessage(apperrors.Unauthorized(401, "Credenciales incorrectas")))
	assert.Equal(t, msgBackendDown, loginErrorMessage(apperrors.Wrap(errors.New("x"), apperrors.ErrCodeUnavailable, "y")))
	assert.Equal(t, msgLoginFailed, loginErrorMessage(errors.New("boom")))
}
