// Package aggregator runs one availability search across every club in
// range and merges the answers.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"padel-finder/clubs"
	"padel-finder/parser"
	"padel-finder/types"
)

// AdapterSource looks up the adapter of a club.
type AdapterSource interface {
	Get(clubID string) (parser.Adapter, bool)
}

// Result is a search outcome with per-club detail.
type Result struct {
	SearchID string
	Slots    []types.Slot
	// Clubs lists the clubs in range that were queried.
	Clubs []string
	// Failures maps a club id to the error that emptied its results.
	Failures map[string]string
}

// Aggregator fans a search out to the club adapters.
type Aggregator struct {
	clubs    []types.Club
	adapters AdapterSource
	log      *zap.Logger
	now      func() time.Time
	loc      *time.Location
	timeout  time.Duration
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the time source used for the today cutoff.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLocation sets the time zone of slot times. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) { a.loc = loc }
}

// WithClubTimeout bounds each club call on top of the adapter's own timeout.
func WithClubTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// New creates an Aggregator over the given club table.
func New(clubList []types.Club, adapters AdapterSource, log *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		clubs:    clubList,
		adapters: adapters,
		log:      log,
		now:      time.Now,
		loc:      time.UTC,
		timeout:  90 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search returns the free slots matching q, sorted by time then distance.
// Only a *ValidationError is returned as error; club failures yield no
// slots for that club.
func (a *Aggregator) Search(ctx context.Context, q Query) ([]types.Slot, error) {
	res, err := a.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.Slots, nil
}

type clubResult struct {
	club  types.Club
	slots []types.Slot
	err   error
}

// Run is Search with per-club detail.
func (a *Aggregator) Run(ctx context.Context, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		SearchID: uuid.NewString(),
		Slots:    []types.Slot{},
		Failures: make(map[string]string),
	}
	log := a.log.With(zap.String("search_id", res.SearchID), zap.String("date", q.Date))

	inRange := clubs.WithinRadius(a.clubs, q.Lat, q.Lon, q.RadiusKm)
	hours := &types.HourRange{From: q.StartHour, To: q.EndHour}

	results := make([]clubResult, len(inRange))
	var wg sync.WaitGroup
	for i, club := range inRange {
		adapter, ok := a.adapters.Get(club.ID)
		if !ok {
			log.Debug("club has no enabled adapter", zap.String("club", club.ID))
			continue
		}
		res.Clubs = append(res.Clubs, club.ID)
		wg.Add(1)
		go func(i int, club types.Club, adapter parser.Adapter) {
			defer wg.Done()
			slots, err := a.callClub(ctx, adapter, q.Date, hours)
			results[i] = clubResult{club: club, slots: slots, err: err}
		}(i, club, adapter)
	}
	wg.Wait()

	cutoff := a.todayCutoff(q.Date)
	for _, r := range results {
		if r.club.ID == "" {
			continue
		}
		if r.err != nil {
			log.Error("⚠️ club search failed", zap.String("club", r.club.ID), zap.Error(r.err))
			res.Failures[r.club.ID] = r.err.Error()
			continue
		}
		distance := round1(clubs.Haversine(q.Lat, q.Lon, r.club.Latitude, r.club.Longitude))
		for _, s := range r.slots {
			if !keep(s, q, cutoff) {
				continue
			}
			res.Slots = append(res.Slots, enrich(s, r.club, distance, q))
		}
	}

	sortSlots(res.Slots)
	log.Info("🔍 search finished",
		zap.Int("clubs", len(res.Clubs)),
		zap.Int("failed", len(res.Failures)),
		zap.Int("slots", len(res.Slots)),
	)
	return res, nil
}

// callClub runs one adapter under the club timeout and turns a panic into
// an error. An adapter that ignores its context is abandoned, not awaited.
func (a *Aggregator) callClub(ctx context.Context, adapter parser.Adapter, date string, hours *types.HourRange) ([]types.Slot, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	type answer struct {
		slots []types.Slot
		err   error
	}
	done := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- answer{err: fmt.Errorf("adapter %s panicked: %v", adapter.ClubID(), r)}
			}
		}()
		s, err := adapter.FetchSlots(ctx, date, hours)
		done <- answer{slots: s, err: err}
	}()

	select {
	case ans := <-done:
		return ans.slots, ans.err
	case <-ctx.Done():
		return nil, fmt.Errorf("club %s: %w", adapter.ClubID(), ctx.Err())
	}
}

// todayCutoff returns the current minute of day when date is today, or -1.
func (a *Aggregator) todayCutoff(date string) int {
	now := a.now().In(a.loc)
	if now.Format("2006-01-02") != date {
		return -1
	}
	return now.Hour()*60 + now.Minute()
}

func keep(s types.Slot, q Query, cutoff int) bool {
	m := s.Minutes()
	if m < 0 {
		return false
	}
	if s.Date != "" && s.Date != q.Date {
		return false
	}
	h := m / 60
	if h < q.StartHour || h > q.EndHour {
		return false
	}
	if cutoff >= 0 && m <= cutoff {
		return false
	}
	return true
}

func enrich(s types.Slot, club types.Club, distance float64, q Query) types.Slot {
	s.Date = q.Date
	s.ClubID = club.ID
	s.ClubName = club.Name
	s.Address = club.Address
	s.Distance = distance
	s.Coordinates = &types.Coordinates{Lat: club.Latitude, Lon: club.Longitude}
	s.SearchCoordinates = &types.Coordinates{Lat: q.Lat, Lon: q.Lon}
	s.Available = true

	switch {
	case s.Type == "" && s.CourtType != "":
		s.Type = s.CourtType
	case s.CourtType == "" && s.Type != "":
		s.CourtType = s.Type
	case s.Type == "" && s.CourtType == "":
		s.Type = types.CourtUnspecified
		s.CourtType = types.CourtUnspecified
	}
	if s.ReservationLink == "" {
		s.ReservationLink = club.BookingURL
	}
	return s
}

// sortSlots orders by start time, then distance. Club and court break the
// remaining ties so the order never depends on completion order.
func sortSlots(slots []types.Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if am, bm := a.Minutes(), b.Minutes(); am != bm {
			return am < bm
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.ClubID != b.ClubID {
			return a.ClubID < b.ClubID
		}
		return a.Court < b.Court
	})
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
