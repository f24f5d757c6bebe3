package httpx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewRouter_RequiresServices(t *testing.T) {
	_, err := NewRouter(RouterServices{Auth: &stubSignIn{}})
	require.Error(t, err)

	_, err = NewRouter(RouterServices{Sessions: newStubSessions(snapAnonymous)})
	require.Error(t, err)
}

func TestRouter_PendingShowsOnlyWaitingPage(t *testing.T) {
	for _, path := range []string{"/", "/profile", "/admin"} {
		t.Run(path, func(t *testing.T) {
			router := newTestRouter(t, newStubSessions(snapPendingToken), &stubSignIn{})

			w := serve(router, bound(t, browserRequest(path), snapPendingToken.Token))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			assert.Empty(t, w.Header().Get("Location"))

			body := w.Body.String()
			assert.Empty(t, dataPages(t, body), "no protected section is rendered")
			doc := parseHTML(t, body)
			assert.Len(t, findAll(doc, attrEquals("http-equiv", "refresh")), 1)
			assert.Len(t, findAll(doc, attrEquals("role", "status")), 1)
			assert.Empty(t, findAll(doc, attrEquals("class", "header")), "no navigation while pending")
			assert.NotContains(t, body, snapAdmin.User.Email)
		})
	}
}

func TestRouter_AnonymousGetsExactlyOneRedirect(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, newStubSessions(snapAnonymous), &stubSignIn{}))
	defer srv.Close()

	var hops []string
	client := srv.Client()
	client.CheckRedirect = func(req *http.Request, _ []*http.Request) error {
		hops = append(hops, req.URL.RequestURI())
		return nil
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/profile", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{"/login?redirect_uri=%2Fprofile"}, hops)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"login"}, dataPages(t, string(body)))
}

func TestRouter_AnonymousRedirectRendersNothingProtected(t *testing.T) {
	router := newTestRouter(t, newStubSessions(snapAnonymous), &stubSignIn{})

	for _, path := range []string{"/", "/profile", "/admin"} {
		w := serve(router, browserRequest(path))
		assert.Equal(t, http.StatusSeeOther, w.Code, path)
		assert.Empty(t, w.Body.Bytes(), path)
	}
}

func TestRouter_AuthenticatedPages(t *testing.T) {
	tests := []struct {
		name          string
		snap          domainauth.Snapshot
		path          string
		wantStatus    int
		wantPage      string
		wantAdminLink bool
	}{
		{name: "admin dashboard", snap: snapAdmin, path: "/", wantStatus: http.StatusOK, wantPage: "dashboard", wantAdminLink: true},
		{name: "staff dashboard", snap: snapStaff, path: "/", wantStatus: http.StatusOK, wantPage: "dashboard"},
		{name: "profile", snap: snapStaff, path: "/profile", wantStatus: http.StatusOK, wantPage: "profile"},
		{name: "admin area", snap: snapAdmin, path: "/admin", wantStatus: http.StatusOK, wantPage: "admin", wantAdminLink: true},
		{name: "admin area as staff", snap: snapStaff, path: "/admin", wantStatus: http.StatusForbidden, wantPage: "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, newStubSessions(tt.snap), &stubSignIn{})

			w := serve(router, bound(t, browserRequest(tt.path), tt.snap.Token))

			require.Equal(t, tt.wantStatus, w.Code)
			body := w.Body.String()
			assert.Equal(t, []string{tt.wantPage}, dataPages(t, body))

			adminLinks := findAll(parseHTML(t, body), attrEquals("href", "/admin"))
			if tt.wantAdminLink {
				assert.NotEmpty(t, adminLinks)
			} else {
				assert.Empty(t, adminLinks)
			}
		})
	}
}

func TestRouter_ProfileShowsUser(t *testing.T) {
	router := newTestRouter(t, newStubSessions(snapAdmin), &stubSignIn{})

	w := serve(router, bound(t, browserRequest("/profile"), snapAdmin.Token))

	body := w.Body.String()
	assert.Contains(t, body, "12345678A")
	assert.Contains(t, body, "ana@example.org")
	assert.Contains(t, body, "Administrador")

	// The logout form carries the CSRF token issued on this response.
	csrf := cookieNamed(t, w, CSRFCookieName)
	require.NotNil(t, csrf)
	inputs := findAll(parseHTML(t, body), attrEquals("name", "csrf_token"))
	require.Len(t, inputs, 1)
	v, _ := attr(inputs[0], "value")
	assert.Equal(t, csrf.Value, v)
}

func TestRouter_SessionAPI(t *testing.T) {
	tests := []struct {
		name       string
		snap       domainauth.Snapshot
		wantStatus int
		wantError  string
	}{
		{name: "pending", snap: snapPendingToken, wantStatus: http.StatusServiceUnavailable, wantError: "session_pending"},
		{name: "anonymous", snap: snapAnonymous, wantStatus: http.StatusUnauthorized, wantError: "authentication_required"},
		{name: "authenticated", snap: snapStaff, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, newStubSessions(tt.snap), &stubSignIn{})

			// Browsers hitting /api/ still get JSON.
			w := serve(router, bound(t, browserRequest("/api/session"), tt.snap.Token))

			require.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, "authenticated", body["state"])
			user, ok := body["user"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, snapStaff.User.ID, user["id"])
			assert.NotContains(t, w.Body.String(), snapStaff.Token)
		})
	}
}

func TestRouter_AuthStatusIsNeverGuarded(t *testing.T) {
	router := newTestRouter(t, newStubSessions(snapPendingToken), &stubSignIn{})

	w := serve(router, bound(t, apiRequest(PathAuthStatus), snapPendingToken.Token))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decodeBody(t, w)["state"])
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t, newStubSessions(snapPending), &stubSignIn{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "pending", body["session"])

	w = serve(router, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t, newStubSessions(snapAnonymous), &stubSignIn{})

	w := serve(router, browserRequest("/no-such-page"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{"not-found"}, dataPages(t, w.Body.String()))

	w = serve(router, apiRequest("/api/no-such-endpoint"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["error"])
}

func TestRouter_StaticAssets(t *testing.T) {
	router := newTestRouter(t, newStubSessions(snapPending), &stubSignIn{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/static/css/app.css", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/static/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_LoginFlow(t *testing.T) {
	sessions := newStubSessions(snapAnonymous)
	svc := &stubSignIn{}
	// Sign-in starts resolution; the guard then shows the waiting page until it settles.
	svc.onSignIn = func() { sessions.Set(snapPendingToken) }
	router := newTestRouter(t, sessions, svc)

	page := serve(router, browserRequest("/login?redirect_uri=%2Fprofile"))
	require.Equal(t, http.StatusOK, page.Code)
	csrf := cookieNamed(t, page, CSRFCookieName)
	require.NotNil(t, csrf)

	form := url.Values{
		"identifier":   {"12345678A"},
		"password":     {"secret"},
		"redirect_uri": {"/profile"},
		"csrf_token":   {csrf.Value},
	}
	req := httptest.NewRequest(http.MethodPost, PathLogin, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(csrf)
	submitted := serve(router, req)

	require.Equal(t, http.StatusSeeOther, submitted.Code)
	assert.Equal(t, "/profile", submitted.Header().Get("Location"))
	require.Len(t, svc.Calls(), 1)

	session := cookieNamed(t, submitted, SessionCookieName)
	require.NotNil(t, session, "signing in binds this browser")
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)
	rotated := cookieNamed(t, submitted, CSRFCookieName)
	require.NotNil(t, rotated)
	assert.NotEqual(t, csrf.Value, rotated.Value, "csrf token is rotated on sign-in")

	withSession := func(path string) *http.Request {
		req := browserRequest(path)
		req.AddCookie(session)
		return req
	}
	waiting := serve(router, withSession("/profile"))
	assert.Empty(t, dataPages(t, waiting.Body.String()))

	sessions.Set(snapAdmin)
	ready := serve(router, withSession("/profile"))
	assert.Equal(t, []string{"profile"}, dataPages(t, ready.Body.String()))

	// Another browser still sees a signed-out back-office.
	other := serve(router, browserRequest("/profile"))
	assert.Equal(t, http.StatusSeeOther, other.Code)
}

func TestRouter_LoginWithoutCSRFIsRejected(t *testing.T) {
	svc := &stubSignIn{}
	router := newTestRouter(t, newStubSessions(snapAnonymous), svc)

	form := url.Values{"identifier": {"a"}, "password": {"b"}}
	req := httptest.NewRequest(http.MethodPost, PathLogin, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := serve(router, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, svc.Calls())
}

func TestRouter_JSONLoginSkipsCSRF(t *testing.T) {
	svc := &stubSignIn{}
	router := newTestRouter(t, newStubSessions(snapAnonymous), svc)

	w := serve(router, jsonPost(PathLogin, `{"id":"12345678A","password":"secret"}`))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, svc.Calls(), 1)
}

func TestRouter_JSONLoginBindsCaller(t *testing.T) {
	sessions := newStubSessions(snapAnonymous)
	svc := &stubSignIn{onSignIn: func() { sessions.Set(snapPendingToken) }}
	router := newTestRouter(t, sessions, svc)

	w := serve(router, jsonPost(PathLogin, `{"id":"12345678A","password":"secret"}`))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending", decodeBody(t, w)["state"])
	session := cookieNamed(t, w, SessionCookieName)
	require.NotNil(t, session)

	req := apiRequest(PathAuthStatus)
	req.AddCookie(session)
	assert.Equal(t, "pending", decodeBody(t, serve(router, req))["state"])
	assert.Equal(t, "unauthenticated", decodeBody(t, serve(router, apiRequest(PathAuthStatus)))["state"])
}

func TestRouter_UnboundClientSeesSignedOutSession(t *testing.T) {
	foreign, err := NewSessionBinding(SessionBindingConfig{Secret: []byte("ffffffffffffffffffffffffffffffff")})
	require.NoError(t, err)
	forged := httptest.NewRecorder()
	require.NoError(t, foreign.Issue(forged, httptest.NewRequest(http.MethodPost, PathLogin, nil), snapAdmin.Token))

	clients := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "cookie for an older token", cookie: sessionCookie(t, "tok-previous")},
		{name: "cookie signed with another secret", cookie: cookieNamed(t, forged, SessionCookieName)},
	}

	for _, c := range clients {
		t.Run(c.name, func(t *testing.T) {
			router := newTestRouter(t, newStubSessions(snapAdmin), &stubSignIn{})
			withCookie := func(req *http.Request) *http.Request {
				if c.cookie != nil {
					req.AddCookie(c.cookie)
				}
				return req
			}

			for _, path := range []string{"/", "/profile", "/admin"} {
				w := serve(router, withCookie(browserRequest(path)))
				assert.Equal(t, http.StatusSeeOther, w.Code, path)
				assert.NotContains(t, w.Body.String(), snapAdmin.User.Email, path)
			}

			api := serve(router, withCookie(browserRequest("/api/session")))
			assert.Equal(t, http.StatusUnauthorized, api.Code)

			status := serve(router, withCookie(apiRequest(PathAuthStatus)))
			require.Equal(t, http.StatusOK, status.Code)
			body := decodeBody(t, status)
			assert.Equal(t, "unauthenticated", body["state"])
			assert.Nil(t, body["user"])

			login := serve(router, withCookie(browserRequest(PathLogin)))
			assert.Equal(t, http.StatusOK, login.Code, "login form is shown instead of the operator's redirect")
			assert.Equal(t, []string{"login"}, dataPages(t, login.Body.String()))
		})
	}
}

func TestRouter_Logout(t *testing.T) {
	tests := []struct {
		name         string
		token        string
		wantSignOuts int
	}{
		{name: "bound browser ends the session", token: snapAdmin.Token, wantSignOuts: 1},
		{name: "other browser leaves the session alone", wantSignOuts: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubSignIn{}
			router := newTestRouter(t, newStubSessions(snapAdmin), svc)

			req := bound(t, httptest.NewRequest(http.MethodPost, PathLogout, nil), tt.token)
			req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "csrf-1"})
			req.Header.Set(CSRFHeaderName, "csrf-1")
			req.Header.Set("Accept", "text/html")
			w := serve(router, req)

			assert.Equal(t, http.StatusSeeOther, w.Code)
			assert.Equal(t, PathLogin, w.Header().Get("Location"))
			assert.Equal(t, tt.wantSignOuts, svc.signOuts)

			cleared := cookieNamed(t, w, SessionCookieName)
			require.NotNil(t, cleared)
			assert.Negative(t, cleared.MaxAge)
			rotated := cookieNamed(t, w, CSRFCookieName)
			require.NotNil(t, rotated)
			assert.NotEqual(t, "csrf-1", rotated.Value)
		})
	}
}
