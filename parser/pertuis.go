package parser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"padel-finder/session"
	"padel-finder/types"
)

const pertuisSportID = "1325"

// Pertuis queries the members area of Padel Club Pertuis. The portal
// limits searches per account, so requests rotate over several accounts
// logged in through the plain login form.
type Pertuis struct {
	*base
	pool *session.Pool
}

type pertuisAvailability struct {
	Error  string `json:"error"`
	Courts []struct {
		ID       int    `json:"idCourt"`
		Name     string `json:"name"`
		Duration []int  `json:"duration"`
		Hours    []struct {
			Hour     string   `json:"hour"`
			Bookable bool     `json:"bookable"`
			Price    *float64 `json:"price"`
			Duration []int    `json:"duration"`
		} `json:"hours"`
	} `json:"courts"`
}

// NewPertuis creates the adapter over an account pool.
func NewPertuis(club types.Club, baseURL string, pool *session.Pool, deps Deps) *Pertuis {
	return &Pertuis{
		base: newSessionBase(club, baseURL, 30*time.Second, deps),
		pool: pool,
	}
}

func (a *Pertuis) FetchSlots(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	return a.fetch(ctx, date, hours, a.load)
}

func (a *Pertuis) TestConnection(ctx context.Context) bool {
	return a.probe(ctx, a.load)
}

// RefreshSession logs in every account that has no valid session.
func (a *Pertuis) RefreshSession(ctx context.Context) error {
	var firstErr error
	for _, acct := range a.pool.Accounts() {
		if acct.Store.GetValid(ctx) != nil {
			continue
		}
		if _, err := acct.Store.Refresh(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Pertuis) Sessions() []*session.Store {
	return a.pool.Stores()
}

func (a *Pertuis) load(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	if a.pool.Len() == 0 {
		return nil, ErrNoCredentials
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}
	q := url.Values{}
	q.Set("ajax", "loadCourtDispo")
	q.Set("date", day.Format("02/01/2006"))
	q.Set("idSport", pertuisSportID)
	if hours != nil {
		q.Set("hour", fmt.Sprintf("%02d:00", hours.From))
	}
	target := a.baseURL + "/membre/reservation.html?" + q.Encode()

	var slots []types.Slot
	err = withAccount(ctx, a.pool, func(ctx context.Context, rec *types.SessionRecord) error {
		var payload pertuisAvailability
		if err := a.getJSON(ctx, target, nil, rec, &payload); err != nil {
			return err
		}
		if payload.Error != "" {
			if pertuisAuthError(payload.Error) {
				return fmt.Errorf("%w: %s", ErrAuth, payload.Error)
			}
			return fmt.Errorf("%w: %s", ErrUnexpectedResponse, payload.Error)
		}
		slots = a.convert(payload, date, hours)
		return nil
	})
	return slots, err
}

func (a *Pertuis) convert(payload pertuisAvailability, date string, hours *types.HourRange) []types.Slot {
	n := a.normalizer(date, hours)
	for _, c := range payload.Courts {
		for _, h := range c.Hours {
			if !h.Bookable {
				continue
			}
			dur := firstPositive(h.Duration)
			if dur == 0 {
				dur = firstPositive(c.Duration)
			}
			price := ""
			if h.Price != nil {
				price = strconv.FormatFloat(*h.Price, 'f', 2, 64)
			}
			n.add(rawSlot{
				Time:     h.Hour,
				Court:    c.Name,
				Duration: dur,
				Price:    price,
				Link:     fmt.Sprintf("%s?idCourt=%d&date=%s&hour=%s", a.club.BookingURL, c.ID, date, url.QueryEscape(normalizeTime(h.Hour))),
			})
		}
	}
	return n.slots()
}

// pertuisAuthMarkers are the words of the portal's error messages that
// mean the account is no longer logged in.
var pertuisAuthMarkers = []string{"session", "connect", "connex", "login", "identifi", "authentif", "expir"}

func pertuisAuthError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range pertuisAuthMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func firstPositive(vs []int) int {
	for _, v := range vs {
		if v > 0 {
			return v
		}
	}
	return 0
}
