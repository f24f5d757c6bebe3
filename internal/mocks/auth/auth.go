// Package auth contains simple hand-written test doubles for session ports.
// These are lightweight and suitable for unit tests without codegen.
package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/target/congress-backoffice/internal/adapters/memory"
	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
	apperrors "github.com/target/congress-backoffice/internal/errors"
	"github.com/target/congress-backoffice/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.TokenSlot           = (*MemoryTokenSlot)(nil)
	_ ports.ProfileFetcher      = (*StaticProfiles)(nil)
	_ ports.ProfileFetcher      = (*GatedProfiles)(nil)
	_ ports.CredentialExchanger = (*StaticExchanger)(nil)
	_ ports.MetricsSink         = (*RecordingSink)(nil)
)

// ErrInvalidToken is what StaticProfiles returns for tokens it does not know.
var ErrInvalidToken error = apperrors.Unauthorized(http.StatusUnauthorized, "invalid token")

// MemoryTokenSlot wraps the in-memory adapter with injectable failures and call counters.
type MemoryTokenSlot struct {
	*memory.TokenSlot

	mu sync.Mutex

	// Injected failures.
	LoadErr  error
	SaveErr  error
	ClearErr error

	saves  int
	clears int
}

// NewMemoryTokenSlot creates an empty slot.
func NewMemoryTokenSlot() *MemoryTokenSlot {
	return &MemoryTokenSlot{TokenSlot: memory.NewTokenSlot()}
}

// NewMemoryTokenSlotWith creates a slot already holding token.
func NewMemoryTokenSlotWith(token string) *MemoryTokenSlot {
	return &MemoryTokenSlot{TokenSlot: memory.NewTokenSlotWith(token)}
}

func (m *MemoryTokenSlot) Load(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	loadErr := m.LoadErr
	m.mu.Unlock()
	if loadErr != nil {
		return "", false, loadErr
	}
	return m.TokenSlot.Load(context.WithoutCancel(ctx))
}

func (m *MemoryTokenSlot) Save(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if err := m.TokenSlot.Save(context.WithoutCancel(ctx), token); err != nil {
		return err
	}
	m.saves++
	return nil
}

func (m *MemoryTokenSlot) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	if m.ClearErr != nil {
		return m.ClearErr
	}
	return m.TokenSlot.Clear(context.WithoutCancel(ctx))
}

// Saves returns how many successful Save calls were made.
func (m *MemoryTokenSlot) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Clears returns how many Clear calls were made.
func (m *MemoryTokenSlot) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// StaticProfiles resolves tokens from a fixed table and counts calls.
type StaticProfiles struct {
	mu     sync.Mutex
	users  map[string]domainauth.User
	errs   map[string]error
	calls  int
	tokens []string
}

// NewStaticProfiles creates an empty table; every token is invalid until added.
func NewStaticProfiles() *StaticProfiles {
	return &StaticProfiles{
		users: make(map[string]domainauth.User),
		errs:  make(map[string]error),
	}
}

// With registers the user returned for token.
func (s *StaticProfiles) With(token string, user domainauth.User) *StaticProfiles {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = user
	return s
}

// Failing registers the error returned for token.
func (s *StaticProfiles) Failing(token string, err error) *StaticProfiles {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[token] = err
	return s
}

func (s *StaticProfiles) Profile(_ context.Context, token string) (domainauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.tokens = append(s.tokens, token)
	if err, ok := s.errs[token]; ok {
		return domainauth.User{}, err
	}
	if u, ok := s.users[token]; ok {
		return u, nil
	}
	return domainauth.User{}, ErrInvalidToken
}

// Calls returns the number of Profile calls.
func (s *StaticProfiles) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Tokens returns the tokens Profile was called with, in order.
func (s *StaticProfiles) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

type gatedResult struct {
	user domainauth.User
	err  error
}

// GatedProfiles blocks each Profile call until the test releases that token.
// It lets tests choose the order in which overlapping resolutions settle.
type GatedProfiles struct {
	mu      sync.Mutex
	gates   map[string]chan gatedResult
	started chan string
}

// NewGatedProfiles creates a fetcher whose calls block until Release or Fail.
func NewGatedProfiles() *GatedProfiles {
	return &GatedProfiles{
		gates:   make(map[string]chan gatedResult),
		started: make(chan string, 16),
	}
}

func (g *GatedProfiles) gate(token string) chan gatedResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[token]
	if !ok {
		ch = make(chan gatedResult, 1)
		g.gates[token] = ch
	}
	return ch
}

func (g *GatedProfiles) Profile(ctx context.Context, token string) (domainauth.User, error) {
	ch := g.gate(token)
	g.started <- token
	select {
	case res := <-ch:
		return res.user, res.err
	case <-ctx.Done():
		return domainauth.User{}, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeUnavailable, "profile request aborted")
	}
}

// Started returns a channel receiving each token as its Profile call begins.
func (g *GatedProfiles) Started() <-chan string { return g.started }

// Release lets the pending call for token succeed with user.
func (g *GatedProfiles) Release(token string, user domainauth.User) {
	g.gate(token) <- gatedResult{user: user}
}

// Fail lets the pending call for token fail with err.
func (g *GatedProfiles) Fail(token string, err error) {
	g.gate(token) <- gatedResult{err: err}
}

// StaticExchanger accepts exactly one identifier/password pair.
type StaticExchanger struct {
	Identifier string
	Password   string
	Token      string
	Err        error

	mu    sync.Mutex
	calls []ports.Credentials
}

func (s *StaticExchanger) Login(_ context.Context, creds ports.Credentials) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, creds)
	s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}
	if creds.Identifier != s.Identifier || creds.Password != s.Password {
		return "", apperrors.Unauthorized(http.StatusUnauthorized, "Credenciales incorrectas")
	}
	if s.Token == "" {
		return "", errors.New("static exchanger has no token configured")
	}
	return s.Token, nil
}

// Calls returns the credentials Login was called with.
func (s *StaticExchanger) Calls() []ports.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Credentials(nil), s.calls...)
}

// CountRecord is a single metric emitted to RecordingSink.
type CountRecord struct {
	Name  string
	Value int64
	Tags  map[string]string
}

// RecordingSink stores every counter it receives.
type RecordingSink struct {
	mu      sync.Mutex
	records []CountRecord
}

func (r *RecordingSink) Count(name string, value int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	r.records = append(r.records, CountRecord{Name: name, Value: value, Tags: copied})
}

// Records returns a copy of everything recorded so far.
func (r *RecordingSink) Records() []CountRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CountRecord(nil), r.records...)
}

// Sum totals the values recorded for name whose tags include match.
func (r *RecordingSink) Sum(name string, match map[string]string) int64 {
	var total int64
	for _, rec := range r.Records() {
		if rec.Name != name {
			continue
		}
		ok := true
		for k, v := range match {
			if rec.Tags[k] != v {
				ok = false
				break
			}
		}
		if ok {
			total += rec.Value
		}
	}
	return total
}
