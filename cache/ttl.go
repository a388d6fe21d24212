// Package cache provides the in-memory TTL cache used by every club adapter.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"padel-finder/types"
)

// Policy returns the TTL that applies to an entry at the given wall-clock time.
type Policy func(now time.Time) time.Duration

// Fixed is a Policy with a constant TTL.
func Fixed(d time.Duration) Policy {
	return func(time.Time) time.Duration { return d }
}

// DayNight returns a Policy using dayTTL between dayStart (inclusive) and
// dayEnd (exclusive) local hours, and nightTTL otherwise.
func DayNight(dayTTL, nightTTL time.Duration, dayStart, dayEnd int) Policy {
	return func(now time.Time) time.Duration {
		h := now.Hour()
		if h >= dayStart && h < dayEnd {
			return dayTTL
		}
		return nightTTL
	}
}

// InLocation evaluates p on the wall clock of loc instead of the zone the
// time value happens to carry.
func InLocation(p Policy, loc *time.Location) Policy {
	if loc == nil {
		return p
	}
	return func(now time.Time) time.Duration { return p(now.In(loc)) }
}

// DefaultPolicy is 2 minutes from 07:00 to 23:00 and 5 minutes overnight.
func DefaultPolicy() Policy {
	return DayNight(2*time.Minute, 5*time.Minute, 7, 23)
}

// Key composes a cache key from every parameter that changes a fetch result.
func Key(clubID, date string, hours *types.HourRange) string {
	var b strings.Builder
	b.WriteString(clubID)
	b.WriteString("|")
	b.WriteString(date)
	if hours != nil {
		fmt.Fprintf(&b, "|h%02d-%02d", hours.From, hours.To)
	}
	return b.String()
}

type entry[V any] struct {
	value     V
	timestamp time.Time
}

// TTL is a process-local cache whose entries expire according to a Policy.
// Entries are never updated in place: Set replaces the whole value.
type TTL[V any] struct {
	mu          sync.RWMutex
	entries     map[string]entry[V]
	policy      Policy
	now         func() time.Time
	lastCleanup time.Time
	sweepEvery  time.Duration
}

// New creates a cache with the given policy.
func New[V any](policy Policy) *TTL[V] {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &TTL[V]{
		entries:    make(map[string]entry[V]),
		policy:     policy,
		now:        time.Now,
		sweepEvery: 30 * time.Second,
	}
}

// WithClock replaces the time source. Used in tests.
func (c *TTL[V]) WithClock(now func() time.Time) *TTL[V] {
	c.now = now
	return c
}

// Get returns the value for key if it is still valid at call time.
func (c *TTL[V]) Get(key string) (V, bool) {
	now := c.now()
	c.maybeCleanup(now)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok || !c.valid(e, now) {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry. Last write wins.
func (c *TTL[V]) Set(key string, value V) {
	now := c.now()
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, timestamp: now}
	c.mu.Unlock()
	c.maybeCleanup(now)
}

// Delete drops a key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Cleanup removes every expired entry and returns how many were removed.
func (c *TTL[V]) Cleanup() int {
	return c.cleanup(c.now())
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TTL[V]) valid(e entry[V], now time.Time) bool {
	return now.Sub(e.timestamp) < c.policy(now)
}

func (c *TTL[V]) maybeCleanup(now time.Time) {
	c.mu.RLock()
	due := now.Sub(c.lastCleanup) >= c.sweepEvery
	c.mu.RUnlock()
	if due {
		c.cleanup(now)
	}
}

func (c *TTL[V]) cleanup(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !c.valid(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.lastCleanup = now
	return removed
}
