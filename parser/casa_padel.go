package parser

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"padel-finder/types"
)

const (
	casaPadelClubID   = "a5c3e0d2-7f41-4b8e-9c61-0d1e2f3a4b5c"
	casaPadelActivity = "ce8c306e-224a-4f24-aa9d-6500580924dc"
)

// CasaPadel reads the daily planning of the club's booking platform:
// playgrounds, each with activities, each with start times and the prices
// that can still be booked.
type CasaPadel struct {
	*base
}

type casaPlanning struct {
	Members []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Indoor     *bool  `json:"indoor"`
		Activities []struct {
			ID    string `json:"id"`
			Slots []struct {
				StartAt string `json:"startAt"`
				Prices  []struct {
					Duration            int  `json:"duration"` // seconds
					PricePerParticipant int  `json:"pricePerParticipant"`
					ParticipantCount    int  `json:"participantCount"`
					Bookable            bool `json:"bookable"`
				} `json:"prices"`
			} `json:"slots"`
		} `json:"activities"`
	} `json:"hydra:member"`
}

// NewCasaPadel creates the adapter.
func NewCasaPadel(club types.Club, baseURL string, deps Deps) *CasaPadel {
	return &CasaPadel{base: newBase(club, baseURL, 10*time.Second, deps)}
}

func (a *CasaPadel) FetchSlots(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	return a.fetch(ctx, date, hours, a.load)
}

func (a *CasaPadel) TestConnection(ctx context.Context) bool {
	return a.probe(ctx, a.load)
}

func (a *CasaPadel) load(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	q := url.Values{}
	q.Set("club.id", casaPadelClubID)
	q.Set("activities.id", casaPadelActivity)
	q.Set("bookingType", "unique")
	if hours != nil {
		q.Set("from", fmt.Sprintf("%02d:00:00", hours.From))
		q.Set("to", fmt.Sprintf("%02d:59:59", hours.To))
	}
	target := fmt.Sprintf("%s/clubs/playgrounds/plannings/%s?%s", a.baseURL, url.PathEscape(date), q.Encode())

	var planning casaPlanning
	if err := a.getJSON(ctx, target, nil, nil, &planning); err != nil {
		return nil, err
	}

	// Unnamed playgrounds still show up, under the placeholder label.
	n := a.normalizer(date, hours).withPlaceholder()
	for _, pg := range planning.Members {
		kind := ""
		if pg.Indoor != nil {
			kind = types.CourtOutdoor
			if *pg.Indoor {
				kind = types.CourtIndoor
			}
		}
		for _, act := range pg.Activities {
			if act.ID != "" && act.ID != casaPadelActivity {
				continue
			}
			for _, s := range act.Slots {
				for _, p := range s.Prices {
					if !p.Bookable {
						continue
					}
					participants := p.ParticipantCount
					if participants <= 0 {
						participants = 1
					}
					n.add(rawSlot{
						Time:     s.StartAt,
						Court:    pg.Name,
						Duration: p.Duration / 60,
						Price:    formatCents(p.PricePerParticipant * participants),
						Type:     kind,
						Link:     fmt.Sprintf("%s/select-booking?playgroundId=%s&date=%s&from=%s", a.club.BookingURL, url.QueryEscape(pg.ID), date, url.QueryEscape(normalizeTime(s.StartAt))),
					})
					break
				}
			}
		}
	}
	return n.slots(), nil
}
