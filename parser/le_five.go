package parser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"padel-finder/session"
	"padel-finder/types"
)

const leFiveCenter = "aix-en-provence"

// LeFive queries the availability endpoint of the Le Five member area.
// Login needs JavaScript, so the session comes from a headless browser.
type LeFive struct {
	*base
	store *session.Store
}

type leFiveAvailabilities struct {
	Data []struct {
		Court struct {
			Name string `json:"name"`
		} `json:"court"`
		Start  string `json:"start"`
		End    string `json:"end"`
		Status string `json:"status"`
		Price  *struct {
			Amount   int    `json:"amount"` // cents
			Currency string `json:"currency"`
		} `json:"price"`
		BookingURL string `json:"bookingUrl"`
	} `json:"data"`
}

// NewLeFive creates the adapter. store holds the browser login session.
func NewLeFive(club types.Club, baseURL string, store *session.Store, deps Deps) *LeFive {
	return &LeFive{
		base:  newSessionBase(club, baseURL, 60*time.Second, deps),
		store: store,
	}
}

func (a *LeFive) FetchSlots(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	return a.fetch(ctx, date, hours, a.load)
}

func (a *LeFive) TestConnection(ctx context.Context) bool {
	return a.probe(ctx, a.load)
}

func (a *LeFive) RefreshSession(ctx context.Context) error {
	_, err := a.store.Refresh(ctx)
	return err
}

func (a *LeFive) Sessions() []*session.Store {
	return []*session.Store{a.store}
}

func (a *LeFive) load(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	q := url.Values{}
	q.Set("date", date)
	if hours != nil {
		q.Set("hourFrom", strconv.Itoa(hours.From))
		q.Set("hourTo", strconv.Itoa(hours.To))
	}
	target := fmt.Sprintf("%s/api/v1/centers/%s/availabilities?%s", a.baseURL, leFiveCenter, q.Encode())

	var slots []types.Slot
	err := withSession(ctx, a.store, func(ctx context.Context, rec *types.SessionRecord) error {
		var payload leFiveAvailabilities
		if err := a.getJSON(ctx, target, nil, rec, &payload); err != nil {
			return err
		}
		slots = a.convert(payload, date, hours)
		return nil
	})
	return slots, err
}

func (a *LeFive) convert(payload leFiveAvailabilities, date string, hours *types.HourRange) []types.Slot {
	n := a.normalizer(date, hours)
	for _, d := range payload.Data {
		if d.Status != "free" {
			continue
		}
		price := ""
		if d.Price != nil {
			price = formatCents(d.Price.Amount)
		}
		n.add(rawSlot{
			Time:     d.Start,
			Court:    d.Court.Name,
			Duration: minutesBetween(d.Start, d.End),
			Price:    price,
			Link:     a.absolute(d.BookingURL),
		})
	}
	return n.slots()
}

// minutesBetween returns the length of an RFC 3339 interval in minutes, or
// 0 when either bound is unreadable.
func minutesBetween(start, end string) int {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return 0
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil || !e.After(s) {
		return 0
	}
	return int(e.Sub(s) / time.Minute)
}
