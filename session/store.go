package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"padel-finder/metrics"
	"padel-finder/types"
)

// ErrLoginFailed wraps every failure of a login flow.
var ErrLoginFailed = errors.New("login failed")

// State of one session.
//
//	Missing -> Refreshing -> Valid -> Expired|Invalid -> Refreshing -> Valid|Failed
//
// Failed stays until a later refresh succeeds.
type State int

const (
	StateMissing State = iota
	StateValid
	StateExpired
	StateInvalid
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateInvalid:
		return "invalid"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Authenticator runs a login flow and returns the resulting cookies.
type Authenticator interface {
	Login(ctx context.Context) ([]types.Cookie, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) ([]types.Cookie, error)

func (f AuthenticatorFunc) Login(ctx context.Context) ([]types.Cookie, error) {
	return f(ctx)
}

// Store owns the session of one club account. Reads are concurrent;
// refreshes are serialized so at most one login runs per key.
type Store struct {
	key      string
	backend  Backend
	auth     Authenticator
	log      *zap.Logger
	metrics  metrics.Recorder
	now      func() time.Time
	lifetime time.Duration
	timeout  time.Duration
	names    map[string]bool
	group    singleflight.Group

	mu         sync.Mutex
	state      State
	current    *types.SessionRecord
	revoked    int64
	hasRevoked bool
	lastErr    error
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics reports refresh outcomes.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Store) { s.metrics = m }
}

// WithCookieNames restricts expiry computation to the named cookies.
func WithCookieNames(names ...string) Option {
	return func(s *Store) {
		s.names = make(map[string]bool, len(names))
		for _, n := range names {
			s.names[n] = true
		}
	}
}

// WithLifetime overrides DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	return func(s *Store) { s.lifetime = d }
}

// WithRefreshTimeout bounds one login flow.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// NewStore creates the store for key.
func NewStore(key string, backend Backend, auth Authenticator, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		key:      key,
		backend:  backend,
		auth:     auth,
		log:      log.With(zap.String("session", key)),
		metrics:  metrics.Nop{},
		now:      time.Now,
		lifetime: DefaultLifetime,
		timeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the session key, e.g. "le-five-padel" or "padel-pertuis:bob".
func (s *Store) Key() string { return s.key }

// State returns the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error of the last failed refresh.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// GetValid returns a usable record or nil. Missing, unreadable, expired and
// revoked records all yield nil.
func (s *Store) GetValid(ctx context.Context) *types.SessionRecord {
	now := s.now()

	s.mu.Lock()
	cur := s.current
	if cur != nil && Valid(cur, now) && !s.isRevoked(cur) {
		s.mu.Unlock()
		return cur
	}
	s.mu.Unlock()

	rec, err := s.backend.Load(ctx, s.key)
	if err != nil {
		s.log.Warn("session record unreadable, treating as missing", zap.Error(err))
		s.transition(StateMissing)
		return nil
	}
	if rec == nil {
		s.transition(StateMissing)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRevoked(rec) {
		s.setState(StateInvalid)
		return nil
	}
	if !Valid(rec, now) {
		s.setState(StateExpired)
		return nil
	}
	s.current = rec
	s.state = StateValid
	return rec
}

// Refresh runs the login flow and persists the new record. Concurrent
// callers share the in-flight login instead of starting their own. The
// login is not retried here. A caller whose ctx ends stops waiting, but
// the login itself keeps running for the others.
func (s *Store) Refresh(ctx context.Context) (*types.SessionRecord, error) {
	ch := s.group.DoChan(s.key, func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			s.log.Debug("joined in-flight session refresh")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.SessionRecord), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for session refresh: %w", ctx.Err())
	}
}

func (s *Store) refresh(ctx context.Context) (*types.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.mu.Lock()
	s.state = StateRefreshing
	s.mu.Unlock()

	start := s.now()
	cookies, err := s.auth.Login(ctx)
	if err == nil && len(cookies) == 0 {
		err = errors.New("no cookies returned")
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrLoginFailed, s.key, err)
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = err
		s.mu.Unlock()
		s.metrics.RecordSessionRefresh(s.key, false)
		s.log.Error("❌ session refresh failed", zap.Error(err))
		return nil, err
	}

	now := s.now()
	rec := &types.SessionRecord{
		Cookies:   cookies,
		ExpiresAt: ComputeExpiry(cookies, now, s.lifetime, s.names),
		CreatedAt: now.UnixMilli(),
	}

	if err := s.backend.Save(ctx, s.key, rec); err != nil {
		// The in-memory record still serves this process.
		s.log.Error("failed to persist refreshed session", zap.Error(err))
	}

	s.mu.Lock()
	s.current = rec
	s.state = StateValid
	s.hasRevoked = false
	s.lastErr = nil
	s.mu.Unlock()

	s.metrics.RecordSessionRefresh(s.key, true)
	s.log.Info("🔐 session refreshed",
		zap.Int("cookies", len(cookies)),
		zap.Time("expires_at", time.UnixMilli(rec.ExpiresAt)),
		zap.Duration("took", now.Sub(start)),
	)
	return rec, nil
}

// Save persists rec as the current session.
func (s *Store) Save(ctx context.Context, rec *types.SessionRecord) error {
	if err := s.backend.Save(ctx, s.key, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = rec
	if Valid(rec, s.now()) {
		s.state = StateValid
		s.hasRevoked = false
	}
	return nil
}

// Invalidate marks rec as rejected by the upstream. The same record is
// never returned by GetValid again, even if it is still on disk.
func (s *Store) Invalidate(rec *types.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec != nil {
		s.revoked = rec.CreatedAt
		s.hasRevoked = true
	}
	s.current = nil
	s.state = StateInvalid
	s.log.Warn("⚠️ session rejected by upstream")
}

func (s *Store) isRevoked(rec *types.SessionRecord) bool {
	return s.hasRevoked && rec.CreatedAt == s.revoked
}

// transition moves to next unless the store is Failed or Refreshing; those
// states only change through a refresh.
func (s *Store) transition(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setState(next)
}

func (s *Store) setState(next State) {
	if s.state == StateFailed || s.state == StateRefreshing {
		return
	}
	s.state = next
}
