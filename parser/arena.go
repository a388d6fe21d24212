package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"padel-finder/types"
)

// Arena queries the partner API of Padel Arena. Requests carry an API key;
// the answer maps start times to [courtId, priceCents] tuples.
type Arena struct {
	*base
	apiKey string
}

type arenaAvailabilities struct {
	Date           string                 `json:"date"`
	Courts         map[string]string      `json:"courts"`
	Availabilities map[string][][]float64 `json:"availabilities"`
}

// NewArena creates the adapter.
func NewArena(club types.Club, baseURL, apiKey string, deps Deps) *Arena {
	return &Arena{
		base:   newBase(club, baseURL, 8*time.Second, deps),
		apiKey: apiKey,
	}
}

func (a *Arena) FetchSlots(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	return a.fetch(ctx, date, hours, a.load)
}

func (a *Arena) TestConnection(ctx context.Context) bool {
	return a.probe(ctx, a.load)
}

func (a *Arena) load(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	if a.apiKey == "" {
		return nil, ErrNoCredentials
	}
	q := url.Values{}
	q.Set("date", date)
	if hours != nil {
		q.Set("min_hour", strconv.Itoa(hours.From))
		q.Set("max_hour", strconv.Itoa(hours.To))
	}
	header := http.Header{}
	header.Set("X-Api-Key", a.apiKey)

	var payload arenaAvailabilities
	if err := a.getJSON(ctx, a.baseURL+"/v2/availabilities?"+q.Encode(), header, nil, &payload); err != nil {
		return nil, err
	}
	return a.convert(payload, date, hours), nil
}

func (a *Arena) convert(payload arenaAvailabilities, date string, hours *types.HourRange) []types.Slot {
	// Sorted keys keep "first occurrence wins" deterministic.
	starts := make([]string, 0, len(payload.Availabilities))
	for k := range payload.Availabilities {
		starts = append(starts, k)
	}
	sort.Strings(starts)

	n := a.normalizer(date, hours)
	for _, start := range starts {
		for _, tuple := range payload.Availabilities[start] {
			if len(tuple) == 0 {
				continue
			}
			id := strconv.Itoa(int(tuple[0]))
			court := payload.Courts[id]
			if court == "" {
				court = "Piste " + id
			}
			price := ""
			if len(tuple) > 1 {
				price = formatCents(int(tuple[1]))
			}
			n.add(rawSlot{
				Time:  start,
				Court: court,
				Price: price,
				Link:  fmt.Sprintf("%s/reserver?court=%s&date=%s&time=%s", a.club.BookingURL, id, date, url.QueryEscape(start)),
			})
		}
	}
	return n.slots()
}
