package session

import (
	"context"
	"errors"
	"sync/atomic"

	"padel-finder/types"
)

// ErrNoValidAccount is returned when no account of a pool has a usable session.
var ErrNoValidAccount = errors.New("no account with a valid session")

// Account is one credential set of a multi-account club.
type Account struct {
	Username string
	Store    *Store
}

// Pool rotates requests over several accounts of the same club.
type Pool struct {
	accounts []*Account
	next     atomic.Uint64
}

// NewPool creates a rotation over accounts, in the given order.
func NewPool(accounts []*Account) *Pool {
	return &Pool{accounts: accounts}
}

// Len returns the number of accounts.
func (p *Pool) Len() int { return len(p.accounts) }

// Accounts returns the accounts in rotation order.
func (p *Pool) Accounts() []*Account {
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// Next returns the next account, in round-robin order, whose session is
// currently valid. Accounts rejected upstream stay skipped until refreshed.
func (p *Pool) Next(ctx context.Context) (*Account, *types.SessionRecord, error) {
	n := uint64(len(p.accounts))
	if n == 0 {
		return nil, nil, ErrNoValidAccount
	}
	start := p.next.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		a := p.accounts[(start+i)%n]
		if rec := a.Store.GetValid(ctx); rec != nil {
			return a, rec, nil
		}
	}
	return nil, nil, ErrNoValidAccount
}

// MarkUnusable records that rec of account a was rejected by the upstream.
func (p *Pool) MarkUnusable(a *Account, rec *types.SessionRecord) {
	a.Store.Invalidate(rec)
}

// RefreshCandidate returns an account that may be logged in during a live
// request. An account whose login is already running comes first, so the
// caller joins it. Otherwise one whose session is simply missing or expired
// is returned. Rejected and failed accounts are left to the scheduled
// session check.
func (p *Pool) RefreshCandidate() *Account {
	n := uint64(len(p.accounts))
	if n == 0 {
		return nil
	}
	start := p.next.Load()
	var idle *Account
	for i := uint64(0); i < n; i++ {
		a := p.accounts[(start+i)%n]
		switch a.Store.State() {
		case StateRefreshing:
			return a
		case StateMissing, StateExpired:
			if idle == nil {
				idle = a
			}
		}
	}
	return idle
}

// Stores returns the session store of every account.
func (p *Pool) Stores() []*Store {
	out := make([]*Store, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, a.Store)
	}
	return out
}
