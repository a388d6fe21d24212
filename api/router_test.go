package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"padel-finder/aggregator"
	"padel-finder/checker"
	"padel-finder/metrics"
	"padel-finder/parser"
	"padel-finder/types"
)

type stubAdapter struct {
	id    string
	slots []types.Slot
	err   error
}

func (s *stubAdapter) ClubID() string { return s.id }

func (s *stubAdapter) FetchSlots(context.Context, string, *types.HourRange) ([]types.Slot, error) {
	return s.slots, s.err
}

func (s *stubAdapter) TestConnection(context.Context) bool { return s.err == nil }

type stubHealth []checker.Status

func (s stubHealth) Snapshot() []checker.Status { return s }

var testClubs = []types.Club{
	{ID: "club-a", Name: "Club A", Latitude: 43.64, Longitude: 5.16, BookingURL: "https://a.example/book"},
	{ID: "club-b", Name: "Club B", Latitude: 43.50, Longitude: 5.40, BookingURL: "https://b.example/book"},
}

func newTestServer(t *testing.T, health HealthSource) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := parser.NewRegistry(
		&stubAdapter{id: "club-a", slots: []types.Slot{
			{Time: "19:00", EndTime: "20:30", Court: "Court 1", DurationMinutes: 90, Price: "36.00"},
			{Time: "18:00", EndTime: "19:30", Court: "Court 2", DurationMinutes: 90, Price: "36.00"},
		}},
		&stubAdapter{id: "club-b", err: errors.New("upstream down")},
	)
	agg := aggregator.New(testClubs, reg, zap.NewNop(),
		aggregator.WithClock(func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }),
	)

	promReg := prometheus.NewRegistry()
	metrics.NewCollector(promReg)

	srv := httptest.NewServer(NewRouter(agg, testClubs, health, promReg, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, promReg
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestSearchEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var body searchResponse
	resp := getJSON(t, srv.URL+"/api/search?date=2026-05-12&startHour=8&endHour=22&latitude=43.64&longitude=5.16&radius=50", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, body.SearchID)
	assert.Equal(t, 2, body.Count)
	assert.ElementsMatch(t, []string{"club-a", "club-b"}, body.Clubs)
	assert.Contains(t, body.Failures, "club-b")

	require.Len(t, body.Slots, 2)
	assert.Equal(t, "18:00", body.Slots[0].Time)
	assert.Equal(t, "19:00", body.Slots[1].Time)
	assert.Equal(t, "club-a", body.Slots[0].ClubID)
	assert.Equal(t, "2026-05-12", body.Slots[0].Date)
	assert.Equal(t, 0.0, body.Slots[0].Distance)
}

func TestSearchEndpointRadiusExcludesFarClub(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var body searchResponse
	resp := getJSON(t, srv.URL+"/api/search?date=2026-05-12&startHour=8&endHour=22&lat=43.64&lon=5.16&radiusKm=5", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"club-a"}, body.Clubs)
	assert.Empty(t, body.Failures)
}

func TestSearchEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name  string
		query string
		field string
	}{
		{"missing date", "startHour=8&endHour=22&latitude=43.6&longitude=5.1&radius=10", "date"},
		{"bad date", "date=12-05-2026&startHour=8&endHour=22&latitude=43.6&longitude=5.1&radius=10", "date"},
		{"hours reversed", "date=2026-05-12&startHour=22&endHour=8&latitude=43.6&longitude=5.1&radius=10", "startHour"},
		{"hour out of range", "date=2026-05-12&startHour=8&endHour=24&latitude=43.6&longitude=5.1&radius=10", "endHour"},
		{"latitude", "date=2026-05-12&startHour=8&endHour=22&latitude=91&longitude=5.1&radius=10", "latitude"},
		{"radius", "date=2026-05-12&startHour=8&endHour=22&latitude=43.6&longitude=5.1&radius=0", "radius"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorResponse
			resp := getJSON(t, srv.URL+"/api/search?"+tt.query, &body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "INVALID_PARAMETER", body.Code)
			assert.Equal(t, tt.field, body.Field)
			assert.NotEmpty(t, body.Message)
		})
	}
}

type failingSearcher struct{}

func (failingSearcher) Run(context.Context, aggregator.Query) (*aggregator.Result, error) {
	return nil, errors.New("boom")
}

func TestSearchEndpointInternalError(t *testing.T) {
	srv := httptest.NewServer(NewRouter(failingSearcher{}, testClubs, nil, nil, zap.NewNop()))
	defer srv.Close()

	var body errorResponse
	resp := getJSON(t, srv.URL+"/api/search?date=2026-05-12&startHour=8&endHour=22&latitude=43.6&longitude=5.1&radius=10", &body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.NotContains(t, body.Message, "boom")

	resp = getJSON(t, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClubsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var body []types.Club
	resp := getJSON(t, srv.URL+"/api/clubs", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body, 2)
	assert.Equal(t, "club-a", body[0].ID)
	assert.Equal(t, "https://a.example/book", body[0].BookingURL)
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("no probes yet", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		var body healthResponse
		getJSON(t, srv.URL+"/api/health", &body)
		assert.Equal(t, "ok", body.Status)
		assert.Empty(t, body.Adapters)
	})

	t.Run("degraded", func(t *testing.T) {
		now := time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)
		srv, _ := newTestServer(t, stubHealth{
			{Club: "club-a", Up: true, CheckedAt: now, Since: now},
			{Club: "club-b", Up: false, CheckedAt: now, Since: now},
		})
		var body healthResponse
		resp := getJSON(t, srv.URL+"/api/health", &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "degraded", body.Status)
		require.Len(t, body.Adapters, 2)
		assert.False(t, body.Adapters[1].Up)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := getJSON(t, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
