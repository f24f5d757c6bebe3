package httpx

import (
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	backoffice "github.com/target/congress-backoffice"
	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
	"github.com/target/congress-backoffice/internal/ports"
	"golang.org/x/net/html"
)

// Snapshots covering the three guard states.
var (
	snapPending      = domainauth.Snapshot{Loading: true}
	snapPendingToken = domainauth.Snapshot{Token: "tok-admin", Loading: true}
	snapAnonymous    = domainauth.Snapshot{}
	snapAdmin        = domainauth.Snapshot{
		Token: "tok-admin",
		User:  &domainauth.User{ID: "12345678A", FirstName: "Ana", LastName: "García", Email: "ana@example.org", RoleID: domainauth.RoleIDAdmin},
	}
	snapStaff = domainauth.Snapshot{
		Token: "tok-staff",
		User:  &domainauth.User{ID: "87654321B", FirstName: "Luis", Email: "luis@example.org", RoleID: 2},
	}
)

// stubSessions is a SessionReader whose snapshot tests can swap between requests.
type stubSessions struct {
	mu   sync.Mutex
	snap domainauth.Snapshot
}

func newStubSessions(snap domainauth.Snapshot) *stubSessions {
	return &stubSessions{snap: snap}
}

func (s *stubSessions) Snapshot() domainauth.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubSessions) Set(snap domainauth.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// stubSignIn records sign-in attempts and returns the configured errors.
type stubSignIn struct {
	mu         sync.Mutex
	signInErr  error
	signOutErr error
	creds      []ports.Credentials
	signOuts   int
	onSignIn   func()
}

func (s *stubSignIn) SignIn(_ context.Context, creds ports.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, creds)
	if s.signInErr == nil && s.onSignIn != nil {
		s.onSignIn()
	}
	return s.signInErr
}

func (s *stubSignIn) SignOut(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOuts++
	return s.signOutErr
}

func (s *stubSignIn) Calls() []ports.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Credentials(nil), s.creds...)
}

// testTemplateFS returns the embedded templates, the same set production serves.
func testTemplateFS(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(backoffice.TemplateFS, TemplatePathFromRoot)
	require.NoError(t, err)
	return sub
}

func requireTemplateRenderer(t *testing.T) *TemplateRenderer {
	t.Helper()
	tr, err := NewTemplateRenderer(TemplateRendererConfig{TemplateFS: testTemplateFS(t)})
	require.NoError(t, err)
	return tr
}

var testSessionSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestRouter(t *testing.T, sessions SessionReader, auth SignInService) http.Handler {
	t.Helper()
	h, err := NewRouter(RouterServices{
		Sessions:      sessions,
		Auth:          auth,
		SessionSecret: testSessionSecret,
		TemplateFS:    testTemplateFS(t),
	})
	require.NoError(t, err)
	return h
}

// sessionCookie returns the cookie the test router would issue to a browser signing in with token.
func sessionCookie(t *testing.T, token string) *http.Cookie {
	t.Helper()
	binding, err := NewSessionBinding(SessionBindingConfig{Secret: testSessionSecret})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	require.NoError(t, binding.Issue(w, httptest.NewRequest(http.MethodPost, PathLogin, nil), token))
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not issued")
	return nil
}

// bound adds the session cookie for token to req. An empty token leaves req unchanged.
func bound(t *testing.T, req *http.Request, token string) *http.Request {
	t.Helper()
	if token != "" {
		req.AddCookie(sessionCookie(t, token))
	}
	return req
}

func parseHTML(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

// findAll walks the tree and returns every element node accepted by match.
func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && match(node) {
			out = append(out, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(key string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		_, ok := attr(n, key)
		return ok
	}
}

func attrEquals(key, val string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := attr(n, key)
		return ok && v == val
	}
}

// dataPages lists the data-page markers the rendered body carries.
func dataPages(t *testing.T, body string) []string {
	t.Helper()
	var pages []string
	for _, n := range findAll(parseHTML(t, body), hasAttr("data-page")) {
		v, _ := attr(n, "data-page")
		pages = append(pages, v)
	}
	return pages
}
