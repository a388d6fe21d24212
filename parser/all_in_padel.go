package parser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"padel-finder/cache"
	"padel-finder/types"
)

const allInPadelTenant = "6f2b9a4e-51c3-4d0b-9a7e-2c8e0b1f3a77"

// AllInPadel queries the public availability API of the club's booking
// provider. Courts are "resources" listed by a second endpoint.
type AllInPadel struct {
	*base
	tenant    string
	resources *cache.TTL[map[string]resource]
}

type resource struct {
	ID         string `json:"resource_id"`
	Name       string `json:"name"`
	Properties struct {
		Type string `json:"resource_type"`
	} `json:"properties"`
}

type availability struct {
	ResourceID string `json:"resource_id"`
	StartDate  string `json:"start_date"`
	Slots      []struct {
		StartTime string `json:"start_time"`
		Duration  int    `json:"duration"`
		Price     string `json:"price"`
	} `json:"slots"`
}

// NewAllInPadel creates the adapter.
func NewAllInPadel(club types.Club, baseURL string, deps Deps) *AllInPadel {
	b := newBase(club, baseURL, 10*time.Second, deps)
	return &AllInPadel{
		base:      b,
		tenant:    allInPadelTenant,
		resources: cache.New[map[string]resource](cache.Fixed(6 * time.Hour)).WithClock(b.now),
	}
}

func (a *AllInPadel) FetchSlots(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	return a.fetch(ctx, date, hours, a.load)
}

func (a *AllInPadel) TestConnection(ctx context.Context) bool {
	return a.probe(ctx, a.load)
}

func (a *AllInPadel) load(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	courts, err := a.courts(ctx)
	if err != nil {
		return nil, err
	}

	from, to := "00:00:00", "23:59:59"
	if hours != nil {
		from = fmt.Sprintf("%02d:00:00", hours.From)
		to = fmt.Sprintf("%02d:59:59", hours.To)
	}
	q := url.Values{}
	q.Set("tenant_id", a.tenant)
	q.Set("sport_id", "PADEL")
	q.Set("local_start_min", date+"T"+from)
	q.Set("local_start_max", date+"T"+to)

	var payload []availability
	if err := a.getJSON(ctx, a.baseURL+"/api/v1/availability?"+q.Encode(), nil, nil, &payload); err != nil {
		return nil, err
	}

	n := a.normalizer(date, hours)
	for _, av := range payload {
		if av.StartDate != "" && av.StartDate != date {
			continue
		}
		res, ok := courts[av.ResourceID]
		if !ok {
			a.log.Warn("availability for unknown resource", zap.String("resource", av.ResourceID))
		}
		for _, s := range av.Slots {
			n.add(rawSlot{
				Time:     s.StartTime,
				Court:    res.Name,
				Duration: s.Duration,
				Price:    formatPrice(s.Price),
				Type:     resourceType(res.Properties.Type),
				Link:     fmt.Sprintf("%s?resource=%s&date=%s&time=%s", a.club.BookingURL, url.QueryEscape(av.ResourceID), date, url.QueryEscape(normalizeTime(s.StartTime))),
			})
		}
	}
	return n.slots(), nil
}

// courts returns the tenant resources by id. They rarely change and are
// cached for hours.
func (a *AllInPadel) courts(ctx context.Context) (map[string]resource, error) {
	if m, ok := a.resources.Get(a.tenant); ok {
		return m, nil
	}
	var list []resource
	target := fmt.Sprintf("%s/api/v1/tenants/%s/resources", a.baseURL, a.tenant)
	if err := a.getJSON(ctx, target, nil, nil, &list); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	m := make(map[string]resource, len(list))
	for _, r := range list {
		m[r.ID] = r
	}
	a.resources.Set(a.tenant, m)
	return m, nil
}

func resourceType(v string) string {
	switch strings.ToLower(v) {
	case "indoor":
		return types.CourtIndoor
	case "outdoor":
		return types.CourtOutdoor
	case "covered":
		return types.CourtMixed
	}
	return ""
}
