package handlers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"padel-finder/aggregator"
	"padel-finder/storage"
	"padel-finder/types"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	answers []string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		b.answers = append(b.answers, cb.Text)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) last() string {
	t := b.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type fakeSearcher struct {
	queries []aggregator.Query
	slots   []types.Slot
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, q aggregator.Query) ([]types.Slot, error) {
	f.queries = append(f.queries, q)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return f.slots, f.err
}

type fakeChecker struct {
	called chan int64
}

func (f *fakeChecker) CheckNow(_ context.Context, chatID int64) error {
	f.called <- chatID
	return nil
}

const chatID int64 = 11

func command(text string) *tgbotapi.Message {
	cmd, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func callback(data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: chatID}},
	}
}

func newTestHandler(t *testing.T) (*Handler, *fakeBot, *fakeSearcher, *fakeChecker, *storage.Storage) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := storage.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	bot := &fakeBot{}
	search := &fakeSearcher{}
	chk := &fakeChecker{called: make(chan int64, 1)}
	h := New(bot, store, search, chk, time.UTC, zap.NewNop())
	h.now = func() time.Time { return time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC) }
	return h, bot, search, chk, store
}

func shareLocation(t *testing.T, h *Handler) {
	t.Helper()
	h.HandleMessage(context.Background(), &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Location: &tgbotapi.Location{Latitude: 43.529742, Longitude: 5.447427},
	})
}

func TestStartOffersLocationButton(t *testing.T) {
	h, bot, _, _, _ := newTestHandler(t)
	h.HandleMessage(context.Background(), command("/start"))

	require.Len(t, bot.sent, 1)
	msg := bot.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "/search")
	kb, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, kb.Keyboard[0][0].RequestLocation)
}

func TestLocationIsStored(t *testing.T) {
	h, bot, _, _, store := newTestHandler(t)
	shareLocation(t, h)

	loc, err := store.GetLocation(context.Background(), chatID)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.InDelta(t, 43.529742, loc.Lat, 1e-6)
	assert.Contains(t, bot.last(), "Position enregistrée")
}

func TestSearchNeedsLocation(t *testing.T) {
	h, bot, search, _, _ := newTestHandler(t)
	h.HandleMessage(context.Background(), command("/search 2026-05-16 18-21"))

	assert.Empty(t, search.queries)
	assert.Contains(t, bot.last(), "Partage d'abord ta position")
}

func TestSearchRunsQuery(t *testing.T) {
	h, bot, search, _, _ := newTestHandler(t)
	shareLocation(t, h)
	search.slots = []types.Slot{
		{ClubID: "arena", ClubName: "Padel Arena", Court: "Court 1", Date: "2026-05-13", Time: "18:00", EndTime: "19:30", Distance: 3.2},
		{ClubID: "urban", ClubName: "Urban Padel", Court: "Terrain 2", Date: "2026-05-13", Time: "18:30", EndTime: "20:00", Distance: 7.5},
	}

	h.HandleMessage(context.Background(), command("/search demain 18h-21h 15"))

	require.Len(t, search.queries, 1)
	q := search.queries[0]
	assert.Equal(t, "2026-05-13", q.Date)
	assert.Equal(t, 18, q.StartHour)
	assert.Equal(t, 21, q.EndHour)
	assert.Equal(t, 15.0, q.RadiusKm)
	assert.InDelta(t, 5.447427, q.Lon, 1e-6)

	texts := bot.texts()
	require.GreaterOrEqual(t, len(texts), 4)
	assert.Contains(t, texts[len(texts)-3], "2 créneaux")
	assert.Contains(t, texts[len(texts)-2], "Padel Arena")
	assert.Contains(t, texts[len(texts)-1], "Urban Padel")
}

func TestSearchRejectsBadArguments(t *testing.T) {
	h, bot, search, _, _ := newTestHandler(t)
	shareLocation(t, h)

	for _, text := range []string{
		"/search",
		"/search 16/05/2026 18-21",
		"/search 2026-05-16 21-18",
		"/search 2026-05-16 18-21 -3",
	} {
		h.HandleMessage(context.Background(), command(text))
		assert.NotContains(t, bot.last(), "créneaux trouvés", text)
	}
	assert.Empty(t, search.queries)
}

func TestSearchWithoutResults(t *testing.T) {
	h, bot, _, _, _ := newTestHandler(t)
	shareLocation(t, h)
	h.HandleMessage(context.Background(), command("/search today 20-22"))
	assert.Contains(t, bot.last(), "Aucun créneau")
}

func TestWatchCommandSavesWatch(t *testing.T) {
	h, bot, _, chk, store := newTestHandler(t)
	shareLocation(t, h)

	h.HandleMessage(context.Background(), command("/watch sam,Dim,mon 18-21 10"))

	w, err := store.GetWatch(context.Background(), chatID)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, []string{"Mon", "Sat", "Sun"}, w.Days)
	assert.Equal(t, 18, w.HourFrom)
	assert.Equal(t, 21, w.HourTo)
	assert.Equal(t, 10.0, w.RadiusKm)
	assert.NotEmpty(t, w.ID)
	assert.Contains(t, bot.last(), "Alerte enregistrée")

	select {
	case id := <-chk.called:
		assert.Equal(t, chatID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("watch was not checked")
	}

	h.HandleMessage(context.Background(), command("/my_watch"))
	assert.Contains(t, bot.last(), "Lun, Sam, Dim")

	h.HandleMessage(context.Background(), command("/cancel"))
	assert.Contains(t, bot.last(), "Alerte supprimée")
	w, err = store.GetWatch(context.Background(), chatID)
	require.NoError(t, err)
	assert.Nil(t, w)

	h.HandleMessage(context.Background(), command("/cancel"))
	assert.Contains(t, bot.last(), "pas d'alerte")
}

func TestWatchRejectsUnknownDay(t *testing.T) {
	h, bot, _, _, store := newTestHandler(t)
	shareLocation(t, h)
	h.HandleMessage(context.Background(), command("/watch funday 18-21"))

	assert.Contains(t, bot.last(), "jour inconnu")
	w, err := store.GetWatch(context.Background(), chatID)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestGuidedWatchFlow(t *testing.T) {
	h, bot, _, chk, store := newTestHandler(t)
	ctx := context.Background()
	shareLocation(t, h)

	h.HandleMessage(ctx, command("/watch"))
	assert.Contains(t, bot.last(), "choisis les jours")

	h.HandleCallback(ctx, callback("days_done"))
	assert.Equal(t, "⚠️ Choisis au moins un jour", bot.answers[len(bot.answers)-1])

	h.HandleCallback(ctx, callback("day:Wed"))
	h.HandleCallback(ctx, callback("days_weekend"))
	h.HandleCallback(ctx, callback("day:Sun"))
	h.HandleCallback(ctx, callback("days_done"))
	assert.Contains(t, bot.last(), "plage horaire")

	h.HandleCallback(ctx, callback("hours:17-22"))
	<-chk.called

	w, err := store.GetWatch(ctx, chatID)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, []string{"Sat"}, w.Days)
	assert.Equal(t, 17, w.HourFrom)
	assert.Equal(t, 22, w.HourTo)
	assert.Equal(t, float64(defaultRadiusKm), w.RadiusKm)

	h.HandleCallback(ctx, callback("day:Mon"))
	assert.Contains(t, bot.answers[len(bot.answers)-1], "expirée")
}

func TestParseHelpers(t *testing.T) {
	now := time.Date(2026, 5, 12, 23, 0, 0, 0, time.UTC)
	d, err := parseDate("demain", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-05-13", d)
	_, err = parseDate("2026-02-30", now)
	assert.Error(t, err)

	from, to, err := parseHours("7-9")
	require.NoError(t, err)
	assert.Equal(t, []int{7, 9}, []int{from, to})
	_, _, err = parseHours("18-24")
	assert.Error(t, err)

	r, err := parseRadius([]string{"25km"})
	require.NoError(t, err)
	assert.Equal(t, 25.0, r)

	days, err := parseDays("mercredi,Tue")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tue", "Wed"}, days)
	assert.Equal(t, "tous les jours", formatDays([]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}))
}
