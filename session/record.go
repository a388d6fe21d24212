// Package session keeps club login sessions alive: persisted cookie records,
// the login flows that produce them and the rotation of several accounts.
package session

import (
	"time"

	"padel-finder/types"
)

const (
	// DefaultLifetime is used when no cookie carries a usable expiry.
	DefaultLifetime = 30 * 24 * time.Hour
	// SanityBound rejects records expiring implausibly far in the future.
	SanityBound = 365 * 24 * time.Hour
	createdSkew = 24 * time.Hour
)

// ComputeExpiry returns the epoch-millis expiry of a fresh session: the
// earliest expiry among persistent cookies (restricted to names when given),
// or now+fallback when none has one. The result never exceeds now+SanityBound.
func ComputeExpiry(cookies []types.Cookie, now time.Time, fallback time.Duration, names map[string]bool) int64 {
	nowSec := float64(now.Unix())
	earliest := -1.0
	for _, c := range cookies {
		if c.Expires <= 0 || c.Expires <= nowSec {
			continue
		}
		if len(names) > 0 && !names[c.Name] {
			continue
		}
		if earliest < 0 || c.Expires < earliest {
			earliest = c.Expires
		}
	}

	limit := now.Add(SanityBound).UnixMilli()
	if earliest < 0 {
		exp := now.Add(fallback).UnixMilli()
		if exp > limit {
			return limit
		}
		return exp
	}
	exp := int64(earliest * 1000)
	if exp > limit {
		return limit
	}
	return exp
}

// Valid reports whether rec can be used at now: not expired and not corrupt.
func Valid(rec *types.SessionRecord, now time.Time) bool {
	if rec == nil || len(rec.Cookies) == 0 {
		return false
	}
	nowMs := now.UnixMilli()
	if rec.ExpiresAt <= nowMs {
		return false
	}
	if rec.ExpiresAt > now.Add(SanityBound).UnixMilli() {
		return false
	}
	if rec.CreatedAt > now.Add(createdSkew).UnixMilli() {
		return false
	}
	return true
}
