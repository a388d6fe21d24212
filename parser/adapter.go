// Package parser holds one adapter per club booking portal. Every adapter
// turns the portal's answer into normalized types.Slot values.
package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"padel-finder/cache"
	"padel-finder/metrics"
	"padel-finder/session"
	"padel-finder/types"
)

var (
	// ErrAuth means the portal refused the session or served its login page.
	ErrAuth = errors.New("authentication rejected")
	// ErrUnexpectedResponse means the portal answered with a status or a
	// payload the adapter does not understand.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrNoCredentials means the club cannot be queried with the current config.
	ErrNoCredentials = errors.New("no credentials configured")
)

// Adapter fetches the free slots of one club.
type Adapter interface {
	ClubID() string
	// FetchSlots returns the free slots on date (YYYY-MM-DD). A nil hours
	// range means the whole day.
	FetchSlots(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error)
	// TestConnection reports whether the upstream answers. It never panics
	// and never returns an error.
	TestConnection(ctx context.Context) bool
}

// SessionRefresher is implemented by adapters that hold login sessions.
type SessionRefresher interface {
	RefreshSession(ctx context.Context) error
	Sessions() []*session.Store
}

// Deps are shared by every adapter.
type Deps struct {
	Log      *zap.Logger
	Metrics  metrics.Recorder
	Policy   cache.Policy
	Location *time.Location
	Now      func() time.Time
	// Client overrides the HTTP client. Used in tests.
	Client *http.Client
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Policy == nil {
		d.Policy = cache.DefaultPolicy()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type rawFetch func(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error)

// base carries what every adapter needs: cache, rate limit, timeout,
// HTTP client and observability.
type base struct {
	club    types.Club
	baseURL string
	client  *http.Client
	cache   *cache.TTL[[]types.Slot]
	limiter *rate.Limiter
	timeout time.Duration
	log     *zap.Logger
	metrics metrics.Recorder
	now     func() time.Time
	loc     *time.Location
}

func newBase(club types.Club, baseURL string, timeout time.Duration, deps Deps) *base {
	deps = deps.withDefaults()
	client := deps.Client
	if client == nil {
		client = newHTTPClient(timeout, true)
	}
	return assemble(club, baseURL, timeout, client, deps)
}

// newSessionBase is newBase for adapters that send a SessionRecord on every
// request. Their client has no cookie jar, so cookies set for one session
// never leak into the requests of another.
func newSessionBase(club types.Club, baseURL string, timeout time.Duration, deps Deps) *base {
	deps = deps.withDefaults()
	client := newHTTPClient(timeout, false)
	if deps.Client != nil {
		c := *deps.Client
		c.Jar = nil
		client = &c
	}
	return assemble(club, baseURL, timeout, client, deps)
}

func assemble(club types.Club, baseURL string, timeout time.Duration, client *http.Client, deps Deps) *base {
	return &base{
		club:    club,
		baseURL: baseURL,
		client:  client,
		cache:   cache.New[[]types.Slot](cache.InLocation(deps.Policy, deps.Location)).WithClock(deps.Now),
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 2),
		timeout: timeout,
		log:     deps.Log.With(zap.String("club", club.ID)),
		metrics: deps.Metrics,
		now:     deps.Now,
		loc:     deps.Location,
	}
}

// ClubID implements Adapter.
func (b *base) ClubID() string { return b.club.ID }

// fetch serves from cache or runs raw under the adapter timeout. Only
// successful results are cached. Callers always get their own copy.
func (b *base) fetch(ctx context.Context, date string, hours *types.HourRange, raw rawFetch) ([]types.Slot, error) {
	key := cache.Key(b.club.ID, date, hours)
	if cached, ok := b.cache.Get(key); ok {
		b.metrics.RecordCacheHit(b.club.ID)
		return cloneSlots(cached), nil
	}
	b.metrics.RecordCacheMiss(b.club.ID)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	slots, err := raw(ctx, date, hours)
	took := time.Since(start)
	if err != nil {
		b.metrics.RecordFetch(b.club.ID, resultLabel(err), took)
		return nil, fmt.Errorf("fetch %s %s: %w", b.club.ID, date, err)
	}
	if slots == nil {
		slots = []types.Slot{}
	}
	b.metrics.RecordFetch(b.club.ID, "ok", took)
	b.metrics.RecordSlots(b.club.ID, len(slots))
	b.log.Debug("slots fetched",
		zap.String("date", date),
		zap.Stringer("hours", hours),
		zap.Int("slots", len(slots)),
		zap.Duration("took", took),
	)

	b.cache.Set(key, slots)
	return cloneSlots(slots), nil
}

// probe runs raw for a narrow window of today without touching the cache.
func (b *base) probe(ctx context.Context, raw rawFetch) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("connection test panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	now := b.now().In(b.loc)
	from := now.Hour()
	to := from + 1
	if to > 23 {
		to = 23
	}
	_, err := raw(ctx, now.Format("2006-01-02"), &types.HourRange{From: from, To: to})
	if err != nil {
		b.log.Warn("⚠️ connection test failed", zap.Error(err))
		return false
	}
	return true
}

func (b *base) normalizer(date string, hours *types.HourRange) *normalizer {
	return newNormalizer(b.club, date, hours, b.log)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnexpectedResponse):
		return "unexpected"
	default:
		return "error"
	}
}

func cloneSlots(in []types.Slot) []types.Slot {
	out := make([]types.Slot, len(in))
	copy(out, in)
	return out
}

// withSession calls fn with a valid session of store. When the portal
// rejects the session, it is invalidated and refreshed once, and fn is
// called again. A session obtained by a refresh is never refreshed twice
// in the same call. A store whose last login failed is not logged in again
// here; RefreshSession or the session keeper has to succeed first.
func withSession(ctx context.Context, store *session.Store, fn func(ctx context.Context, rec *types.SessionRecord) error) error {
	refreshed := false
	rec := store.GetValid(ctx)
	if rec == nil {
		if store.State() == session.StateFailed {
			return fmt.Errorf("%w: last login failed: %w", ErrAuth, store.LastError())
		}
		var err error
		if rec, err = store.Refresh(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}
		refreshed = true
	}

	err := fn(ctx, rec)
	if !errors.Is(err, ErrAuth) {
		return err
	}
	store.Invalidate(rec)
	if refreshed {
		return err
	}

	rec, rerr := store.Refresh(ctx)
	if rerr != nil {
		return fmt.Errorf("%w: %w", ErrAuth, rerr)
	}
	err = fn(ctx, rec)
	if errors.Is(err, ErrAuth) {
		store.Invalidate(rec)
	}
	return err
}

// withAccount calls fn with the next account of pool that has a valid
// session. An account whose session is rejected is set aside and the call
// moves on to the next valid account once. When no account is valid, one
// missing or expired account is logged in.
func withAccount(ctx context.Context, pool *session.Pool, fn func(ctx context.Context, rec *types.SessionRecord) error) error {
	acct, rec, err := pool.Next(ctx)
	fresh := false
	if errors.Is(err, session.ErrNoValidAccount) {
		acct = pool.RefreshCandidate()
		if acct == nil {
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}
		if rec, err = acct.Store.Refresh(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}
		fresh = true
	} else if err != nil {
		return err
	}

	err = fn(ctx, rec)
	if !errors.Is(err, ErrAuth) {
		return err
	}
	pool.MarkUnusable(acct, rec)
	if fresh {
		return err
	}

	next, nextRec, nerr := pool.Next(ctx)
	if nerr != nil {
		return err
	}
	err = fn(ctx, nextRec)
	if errors.Is(err, ErrAuth) {
		pool.MarkUnusable(next, nextRec)
	}
	return err
}
