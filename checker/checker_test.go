package checker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"padel-finder/aggregator"
	"padel-finder/metrics"
	"padel-finder/parser"
	"padel-finder/session"
	"padel-finder/storage"
	"padel-finder/types"
)

// 2026-05-12 is a Tuesday.
var testNow = time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

type sent struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, sent{chatID, text})
	return nil
}

func (n *fakeNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.text)
	}
	return out
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	n.msgs = nil
	n.mu.Unlock()
}

type fakeSearcher struct {
	mu      sync.Mutex
	byDate  map[string][]types.Slot
	failOn  map[string]bool
	queries []aggregator.Query
}

func (f *fakeSearcher) Search(_ context.Context, q aggregator.Query) ([]types.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.failOn[q.Date] {
		return nil, errors.New("boom")
	}
	return f.byDate[q.Date], nil
}

func (f *fakeSearcher) set(date string, slots ...types.Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byDate[date] = slots
}

func slot(club, court, date, hhmm string) types.Slot {
	return types.Slot{
		ClubID:          club,
		ClubName:        "Club " + club,
		Court:           court,
		Date:            date,
		Time:            hhmm,
		EndTime:         "20:30",
		Price:           "36.00",
		CourtType:       types.CourtIndoor,
		ReservationLink: "https://book.example/" + club,
		Distance:        2.4,
	}
}

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	mr := miniredis.RunT(t)
	return storage.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeSearcher, *fakeNotifier, *storage.Storage) {
	t.Helper()
	search := &fakeSearcher{byDate: map[string][]types.Slot{}, failOn: map[string]bool{}}
	notify := &fakeNotifier{}
	store := newTestStore(t)
	w := NewWatcher(search, store, notify, time.UTC, zap.NewNop())
	w.now = func() time.Time { return testNow }
	return w, search, notify, store
}

func TestInterval(t *testing.T) {
	tests := []struct {
		hour, min int
		want      time.Duration
	}{
		{0, 30, 20 * time.Minute},
		{1, 0, 3 * time.Hour},
		{7, 59, 3 * time.Hour},
		{8, 0, 20 * time.Minute},
		{23, 0, 20 * time.Minute},
	}
	for _, tt := range tests {
		at := time.Date(2026, 5, 12, tt.hour, tt.min, 0, 0, time.UTC)
		assert.Equal(t, tt.want, Interval(at), at.Format("15:04"))
	}
}

func TestMatchingDates(t *testing.T) {
	assert.Equal(t, []string{"2026-05-16", "2026-05-18"}, matchingDates(testNow, []string{"Mon", "Sat"}, 7))
	assert.Equal(t, []string{"2026-05-12"}, matchingDates(testNow, []string{"Tue"}, 7))
	assert.Empty(t, matchingDates(testNow, nil, 7))
}

func TestWatcherNotifiesOnlyNewSlots(t *testing.T) {
	w, search, notify, store := newTestWatcher(t)
	ctx := context.Background()

	watch := &types.Watch{ID: "w", ChatID: 7, Lat: 43.5, Lon: 5.4, RadiusKm: 20, Days: []string{"Sat"}, HourFrom: 18, HourTo: 21}
	require.NoError(t, store.SaveWatch(ctx, watch))
	search.set("2026-05-16", slot("arena", "Court 1", "2026-05-16", "19:00"))

	w.Prime(ctx)
	assert.Empty(t, notify.texts(), "priming must not notify")

	w.CheckAll(ctx)
	assert.Empty(t, notify.texts(), "nothing new")

	search.set("2026-05-16",
		slot("arena", "Court 1", "2026-05-16", "19:00"),
		slot("arena", "Court 2", "2026-05-16", "20:00"),
	)
	w.CheckAll(ctx)

	texts := notify.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Nouveaux créneaux")
	assert.Contains(t, texts[1], "Court 2")
	assert.NotContains(t, texts[1], "Court 1")

	notify.reset()
	w.CheckAll(ctx)
	assert.Empty(t, notify.texts(), "already notified")

	q := search.queries[0]
	assert.Equal(t, aggregator.Query{Date: "2026-05-16", StartHour: 18, EndHour: 21, Lat: 43.5, Lon: 5.4, RadiusKm: 20}, q)
}

func TestCheckNowSendsCurrentSlots(t *testing.T) {
	w, search, notify, store := newTestWatcher(t)
	ctx := context.Background()

	require.NoError(t, store.SaveWatch(ctx, &types.Watch{ChatID: 3, RadiusKm: 10, Days: []string{"Tue", "Sat"}, HourFrom: 18, HourTo: 22}))
	search.set("2026-05-12", slot("arena", "Court 1", "2026-05-12", "19:00"))
	search.set("2026-05-16", slot("urban", "Terrain 4", "2026-05-16", "18:00"))
	require.NoError(t, store.SaveLastSlots(ctx, 3, []string{"arena_Court 1_2026-05-12_19:00"}))

	require.NoError(t, w.CheckNow(ctx, 3))

	texts := notify.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "actuellement")
	assert.Contains(t, texts[1], "Club arena")
	assert.Contains(t, texts[2], "Club urban")

	ids, err := store.GetLastSlots(ctx, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"arena_Court 1_2026-05-12_19:00", "urban_Terrain 4_2026-05-16_18:00"}, ids)
}

func TestCheckNowWithoutSlots(t *testing.T) {
	w, _, notify, store := newTestWatcher(t)
	ctx := context.Background()
	require.NoError(t, store.SaveWatch(ctx, &types.Watch{ChatID: 3, RadiusKm: 10, Days: []string{"Sun"}, HourFrom: 8, HourTo: 10}))

	require.NoError(t, w.CheckNow(ctx, 3))
	texts := notify.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Aucun créneau")

	assert.Error(t, w.CheckNow(ctx, 99))
}

func TestWatcherSkipsFailedDates(t *testing.T) {
	w, search, notify, store := newTestWatcher(t)
	ctx := context.Background()
	require.NoError(t, store.SaveWatch(ctx, &types.Watch{ChatID: 5, RadiusKm: 10, Days: []string{"Sat", "Mon"}, HourFrom: 18, HourTo: 21}))
	search.failOn["2026-05-16"] = true
	search.set("2026-05-18", slot("casa", "Padel 1", "2026-05-18", "18:30"))

	require.NoError(t, w.CheckNow(ctx, 5))
	texts := notify.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "Padel 1")
}

func TestFormatSlotsGroupsByClub(t *testing.T) {
	a1 := slot("arena", "Court 1", "2026-05-16", "19:00")
	b1 := slot("urban", "Terrain 2", "2026-05-16", "19:00")
	b1.Price = "0"
	b1.CourtType = types.CourtUnspecified
	a2 := slot("arena", "Court 3", "2026-05-16", "20:00")

	msgs := FormatSlots([]types.Slot{a1, b1, a2})
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[0], "🎾 Club arena (2.4 km)"))
	assert.Contains(t, msgs[0], "2026-05-16 19:00-20:30 · Court 1 (intérieur) · 36.00 €")
	assert.Contains(t, msgs[0], "Court 3")
	assert.Contains(t, msgs[0], "Réserver : https://book.example/arena")
	assert.Contains(t, msgs[1], "2026-05-16 19:00-20:30 · Terrain 2\n")
}

type fakeAdapter struct {
	id string
	mu sync.Mutex
	up bool
}

func (f *fakeAdapter) ClubID() string { return f.id }

func (f *fakeAdapter) FetchSlots(context.Context, string, *types.HourRange) ([]types.Slot, error) {
	return nil, nil
}

func (f *fakeAdapter) TestConnection(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeAdapter) setUp(up bool) {
	f.mu.Lock()
	f.up = up
	f.mu.Unlock()
}

type upRecorder struct {
	metrics.Nop
	mu sync.Mutex
	up map[string]bool
}

func (r *upRecorder) SetAdapterUp(club string, up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.up[club] = up
}

func TestHealthCheckerAlertsOnTransitions(t *testing.T) {
	a := &fakeAdapter{id: "arena", up: true}
	b := &fakeAdapter{id: "urban", up: false}
	rec := &upRecorder{up: map[string]bool{}}
	notify := &fakeNotifier{}
	clock := testNow
	h := NewHealthChecker([]parser.Adapter{b, a}, rec, notify, 1, zap.NewNop())
	h.now = func() time.Time { return clock }

	snap := h.CheckAll(context.Background())
	require.Len(t, snap, 2)
	assert.Equal(t, "arena", snap[0].Club)
	assert.True(t, snap[0].Up)
	assert.False(t, snap[1].Up)
	assert.Equal(t, map[string]bool{"arena": true, "urban": false}, rec.up)
	require.Len(t, notify.texts(), 1)
	assert.Contains(t, notify.texts()[0], "urban ne répond plus")

	clock = testNow.Add(30 * time.Minute)
	h.CheckAll(context.Background())
	assert.Len(t, notify.texts(), 1, "no change, no alert")
	assert.Equal(t, testNow, h.Snapshot()[1].Since)

	b.setUp(true)
	clock = testNow.Add(time.Hour)
	snap = h.CheckAll(context.Background())
	require.Len(t, notify.texts(), 2)
	assert.Contains(t, notify.texts()[1], "urban répond de nouveau")
	assert.Equal(t, clock, snap[1].Since)
	assert.True(t, rec.up["urban"])
}

func TestHealthCheckerWithoutAdminChat(t *testing.T) {
	notify := &fakeNotifier{}
	h := NewHealthChecker([]parser.Adapter{&fakeAdapter{id: "arena"}}, nil, notify, 0, zap.NewNop())
	snap := h.CheckAll(context.Background())
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Up)
	assert.Empty(t, notify.texts())
}

type memBackend struct {
	mu   sync.Mutex
	recs map[string]*types.SessionRecord
}

func (m *memBackend) Load(_ context.Context, key string) (*types.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[key], nil
}

func (m *memBackend) Save(_ context.Context, key string, rec *types.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key] = rec
	return nil
}

func TestSessionKeeperRenewsExpiringSessions(t *testing.T) {
	now := func() time.Time { return testNow }
	backend := &memBackend{recs: map[string]*types.SessionRecord{
		"fresh": {
			Cookies:   []types.Cookie{{Name: "sid", Value: "1", Expires: -1}},
			ExpiresAt: testNow.Add(10 * 24 * time.Hour).UnixMilli(),
			CreatedAt: testNow.Add(-24 * time.Hour).UnixMilli(),
		},
		"expiring": {
			Cookies:   []types.Cookie{{Name: "sid", Value: "2", Expires: -1}},
			ExpiresAt: testNow.Add(24 * time.Hour).UnixMilli(),
			CreatedAt: testNow.Add(-24 * time.Hour).UnixMilli(),
		},
	}}

	logins := map[string]int{}
	var mu sync.Mutex
	login := func(key string, err error) session.Authenticator {
		return session.AuthenticatorFunc(func(context.Context) ([]types.Cookie, error) {
			mu.Lock()
			logins[key]++
			mu.Unlock()
			if err != nil {
				return nil, err
			}
			return []types.Cookie{{Name: "sid", Value: "new-" + key, Expires: -1}}, nil
		})
	}

	stores := []*session.Store{
		session.NewStore("fresh", backend, login("fresh", nil), zap.NewNop(), session.WithClock(now)),
		session.NewStore("expiring", backend, login("expiring", nil), zap.NewNop(), session.WithClock(now)),
		session.NewStore("missing", backend, login("missing", errors.New("captcha")), zap.NewNop(), session.WithClock(now)),
	}
	notify := &fakeNotifier{}
	k := NewSessionKeeper(stores, notify, 1, zap.NewNop())
	k.now = now

	refreshed, failed := k.CheckAll(context.Background())
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, map[string]int{"expiring": 1, "missing": 1}, logins)

	rec, _ := backend.Load(context.Background(), "expiring")
	require.NotNil(t, rec)
	assert.Equal(t, "new-expiring", rec.Cookies[0].Value)

	require.Len(t, notify.texts(), 1)
	assert.Contains(t, notify.texts()[0], "missing")
	assert.Equal(t, session.StateFailed, stores[2].State())
}

func TestRunWithZeroIntervalUsesDefault(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	a := &fakeAdapter{id: "arena", up: true}
	h := NewHealthChecker([]parser.Adapter{a}, nil, nil, 0, zap.NewNop())
	assert.NotPanics(t, func() { h.Run(ctx, 0) })
	require.Len(t, h.Snapshot(), 1)

	k := NewSessionKeeper(nil, nil, 0, zap.NewNop())
	assert.NotPanics(t, func() { k.Run(ctx, -time.Minute) })
}
