package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padel-finder/types"
)

func newTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestWatchRoundTrip(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	got, err := s.GetWatch(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)

	w := &types.Watch{ID: "w1", ChatID: 42, Lat: 43.5, Lon: 5.4, RadiusKm: 20, Days: []string{"Mon", "Sat"}, HourFrom: 18, HourTo: 21}
	require.NoError(t, s.SaveWatch(ctx, w))
	require.NoError(t, s.SaveWatch(ctx, &types.Watch{ID: "w2", ChatID: 7, Days: []string{"Sun"}}))

	got, err = s.GetWatch(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, w, got)

	all, err := s.ListWatches(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.SaveLastSlots(ctx, 42, []string{"a"}))
	require.NoError(t, s.DeleteWatch(ctx, 42))
	got, err = s.GetWatch(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)
	ids, err := s.GetLastSlots(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestListWatchesSkipsCorruptEntries(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWatch(ctx, &types.Watch{ID: "ok", ChatID: 1}))
	require.NoError(t, mr.Set("watch:2", "{not json"))

	all, err := s.ListWatches(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ok", all[0].ID)
}

func TestLastSlotsExpire(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLastSlots(ctx, 5, []string{"club_P1_2026-05-12_18:00"}))
	ids, err := s.GetLastSlots(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"club_P1_2026-05-12_18:00"}, ids)
	assert.Equal(t, 24*time.Hour, mr.TTL("slots:5"))

	mr.FastForward(25 * time.Hour)
	ids, err = s.GetLastSlots(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestLocation(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	loc, err := s.GetLocation(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, loc)

	require.NoError(t, s.SaveLocation(ctx, 9, types.Coordinates{Lat: 43.529742, Lon: 5.447427}))
	loc, err = s.GetLocation(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.InDelta(t, 43.529742, loc.Lat, 1e-9)
	assert.InDelta(t, 5.447427, loc.Lon, 1e-9)

	require.NoError(t, mr.Set("loc:10", "garbage"))
	_, err = s.GetLocation(ctx, 10)
	assert.Error(t, err)
}

func TestSessionBackend(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	rec, err := s.Load(ctx, "indoor-aix")
	require.NoError(t, err)
	assert.Nil(t, rec)

	want := &types.SessionRecord{
		Cookies:   []types.Cookie{{Name: "remember_me", Value: "abc", Expires: float64(now.Add(48 * time.Hour).Unix())}},
		ExpiresAt: now.Add(48 * time.Hour).UnixMilli(),
		CreatedAt: now.UnixMilli(),
	}
	require.NoError(t, s.Save(ctx, "indoor-aix", want))

	rec, err = s.Load(ctx, "indoor-aix")
	require.NoError(t, err)
	assert.Equal(t, want, rec)
	assert.Equal(t, 48*time.Hour+sessionGrace, mr.TTL("session:indoor-aix"))
}

func TestSessionBackendToleratesUnknownFields(t *testing.T) {
	s, mr := newTestStorage(t)
	require.NoError(t, mr.Set("session:le-five",
		`{"cookies":[{"name":"lefive_session","value":"x","expires":-1,"sameSite":"Lax"}],"expiresAt":1,"createdAt":0,"version":3}`))

	rec, err := s.Load(context.Background(), "le-five")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "lefive_session", rec.Cookies[0].Name)
	assert.EqualValues(t, 1, rec.ExpiresAt)
}

func TestPing(t *testing.T) {
	s, _ := newTestStorage(t)
	require.NoError(t, s.Ping(context.Background()))
}
