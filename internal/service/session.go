package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
	apperrors "github.com/target/congress-backoffice/internal/errors"
	"github.com/target/congress-backoffice/internal/ports"
)

var (
	// ErrEmptyToken is returned by Login when the credential is blank.
	ErrEmptyToken = errors.New("token is required")
	// ErrTokenSlotRequired indicates the service cannot be constructed without a token slot.
	ErrTokenSlotRequired = errors.New("token slot is required")
	// ErrProfileFetcherRequired indicates the service cannot be constructed without a profile fetcher.
	ErrProfileFetcherRequired = errors.New("profile fetcher is required")
)

const (
	metricLogin   = "session.login"
	metricLogout  = "session.logout"
	metricResolve = "session.resolve"

	outcomeOK      = "ok"
	outcomeStale   = "stale"
	outcomeAborted = "aborted"
)

// SessionServiceOptions groups dependencies for SessionService.
type SessionServiceOptions struct {
	Slot     ports.TokenSlot
	Profiles ports.ProfileFetcher
	Metrics  ports.MetricsSink // optional
	Logger   *slog.Logger      // optional

	// DiscardStale drops resolutions that a later Login superseded.
	// When false, overlapping resolutions settle last-write-wins.
	DiscardStale bool

	// ResolveTimeout bounds each identity resolution. Zero means no timeout.
	ResolveTimeout time.Duration
}

// SessionService owns the operator session: the bearer token, the identity it resolves to,
// and whether a resolution is in flight. Construct one per process and pass it to consumers.
type SessionService struct {
	slot           ports.TokenSlot
	profiles       ports.ProfileFetcher
	metrics        ports.MetricsSink
	logger         *slog.Logger
	discardStale   bool
	resolveTimeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	initOnce sync.Once

	// slotMu serializes slot writes together with the state change they belong to.
	// Lock order: slotMu before mu.
	slotMu sync.Mutex

	mu         sync.Mutex
	state      domainauth.Snapshot
	generation uint64
	// logouts counts logouts; a resolution started before the latest one must not publish a user.
	logouts  uint64
	inflight int
	subs     map[chan struct{}]struct{}
}

// NewSessionService constructs a SessionService in its boot state: no token, no user, loading.
func NewSessionService(opts SessionServiceOptions) (*SessionService, error) {
	if opts.Slot == nil {
		return nil, ErrTokenSlotRequired
	}
	if opts.Profiles == nil {
		return nil, ErrProfileFetcherRequired
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		slot:           opts.Slot,
		profiles:       opts.Profiles,
		metrics:        opts.Metrics,
		logger:         logger.With("component", "session"),
		discardStale:   opts.DiscardStale,
		resolveTimeout: opts.ResolveTimeout,
		baseCtx:        ctx,
		cancel:         cancel,
		state:          domainauth.Snapshot{Loading: true},
		subs:           make(map[chan struct{}]struct{}),
	}, nil
}

// Initialize reads the persisted token and, when one exists, resolves it in the background.
// Only the first call has any effect.
func (s *SessionService) Initialize(ctx context.Context) {
	s.initOnce.Do(func() { s.initialize(ctx) })
}

func (s *SessionService) initialize(ctx context.Context) {
	token, ok, err := s.slot.Load(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "read persisted token failed; starting signed out", "error", err)
		ok = false
	}
	if !ok || token == "" {
		s.mutate(func(st *domainauth.Snapshot) { st.Loading = false })
		return
	}

	s.spawn(s.begin(token))
}

// Login persists token, enters the loading state and resolves the identity in the background.
// It returns once the resolution has been started; observe completion through Snapshot or Subscribe.
func (s *SessionService) Login(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}

	s.slotMu.Lock()
	if err := s.slot.Save(ctx, token); err != nil {
		s.slotMu.Unlock()
		return fmt.Errorf("persist token: %w", err)
	}
	res := s.begin(token)
	s.slotMu.Unlock()

	s.count(metricLogin, nil)
	s.spawn(res)
	return nil
}

// Logout clears the token and user and removes the persisted token. It is idempotent and
// never calls the backend. In-memory state is cleared even when the slot cannot be.
func (s *SessionService) Logout(ctx context.Context) error {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	return s.logoutLocked(ctx)
}

func (s *SessionService) logoutLocked(ctx context.Context) error {
	s.mutate(func(st *domainauth.Snapshot) {
		s.logouts++
		st.Token = ""
		st.User = nil
	})
	s.count(metricLogout, nil)

	if err := s.slot.Clear(ctx); err != nil {
		return fmt.Errorf("clear token slot: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current session state.
func (s *SessionService) Snapshot() domainauth.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	return snap
}

// IsAdmin reports whether the current user holds the administrator role.
func (s *SessionService) IsAdmin() bool {
	return s.Snapshot().IsAdmin()
}

// Subscribe registers for change notifications. The channel receives a value (coalesced)
// after every change to the session state; call the returned function to unsubscribe.
func (s *SessionService) Subscribe() (func(), <-chan struct{}) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}, ch
}

// Wait blocks until no identity resolution is in flight or ctx is done.
func (s *SessionService) Wait(ctx context.Context) error {
	unsubscribe, changed := s.Subscribe()
	defer unsubscribe()

	for {
		s.mu.Lock()
		idle := s.inflight == 0
		s.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close aborts in-flight resolutions. Call it once at shutdown.
func (s *SessionService) Close() {
	s.cancel()
}

// resolution identifies one identity lookup and the session epoch it started in.
type resolution struct {
	gen   uint64
	epoch uint64
	token string
}

// begin records token as current, enters loading and returns the new resolution.
func (s *SessionService) begin(token string) resolution {
	res := resolution{token: token}
	s.mutate(func(st *domainauth.Snapshot) {
		s.generation++
		res.gen = s.generation
		res.epoch = s.logouts
		s.inflight++
		st.Token = token
		st.Loading = true
		st.LastFailure = domainauth.FailureNone
	})
	return res
}

func (s *SessionService) spawn(res resolution) {
	go s.resolveIdentity(res)
}

func (s *SessionService) resolveIdentity(res resolution) {
	ctx := s.baseCtx
	if s.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.resolveTimeout)
		defer cancel()
	}
	defer s.settle(res)

	user, err := s.profiles.Profile(ctx, res.token)
	if err == nil && user.ID == "" {
		err = apperrors.Upstream(0, "profile response has no user id")
	}
	if err != nil {
		s.fail(ctx, res, err)
		return
	}

	applied := false
	s.mutate(func(st *domainauth.Snapshot) {
		if s.superseded(res) {
			return
		}
		u := user
		st.User = &u
		applied = true
	})
	if !applied {
		s.count(metricResolve, map[string]string{"outcome": outcomeStale})
		return
	}
	s.count(metricResolve, map[string]string{"outcome": outcomeOK})
	s.logger.InfoContext(ctx, "session resolved", "user_id", user.ID, "is_admin", user.RoleID == domainauth.RoleIDAdmin)
}

// fail recovers from a failed resolution by logging out. A lookup cut short by Close is
// an abort: the token stays in memory and in the slot for the next process.
func (s *SessionService) fail(ctx context.Context, res resolution, err error) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	if s.baseCtx.Err() != nil {
		s.count(metricResolve, map[string]string{"outcome": outcomeAborted})
		s.logger.Debug("session resolution aborted by shutdown", "error", err)
		return
	}

	s.mu.Lock()
	superseded := s.superseded(res)
	s.mu.Unlock()
	if superseded {
		s.count(metricResolve, map[string]string{"outcome": outcomeStale})
		return
	}

	kind := domainauth.ClassifyFailure(err)
	s.count(metricResolve, map[string]string{"outcome": string(kind)})
	s.logger.WarnContext(ctx, "session resolution failed; signing out", "reason", kind, "error", err)

	s.mutate(func(st *domainauth.Snapshot) { st.LastFailure = kind })
	if clearErr := s.logoutLocked(context.WithoutCancel(ctx)); clearErr != nil {
		s.logger.ErrorContext(ctx, "logout after failed resolution", "error", clearErr)
	}
}

// settle is the completion step run on every resolution exit path.
func (s *SessionService) settle(res resolution) {
	s.mutate(func(st *domainauth.Snapshot) {
		s.inflight--
		if s.isStale(res.gen) {
			return
		}
		if s.logouts != res.epoch && s.inflight > 0 {
			// Logged out since this lookup started; a newer Login owns the loading flag.
			return
		}
		st.Loading = false
	})
}

// superseded reports whether res may no longer publish its outcome. Must be called with s.mu held.
func (s *SessionService) superseded(res resolution) bool {
	return s.isStale(res.gen) || s.logouts != res.epoch
}

// isStale must be called with s.mu held.
func (s *SessionService) isStale(gen uint64) bool {
	return s.discardStale && gen != s.generation
}

// mutate applies fn to the state under the lock and notifies subscribers.
func (s *SessionService) mutate(fn func(st *domainauth.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *SessionService) count(name string, tags map[string]string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count(name, 1, tags)
}
