package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"padel-finder/aggregator"
	"padel-finder/checker"
	"padel-finder/types"
)

const defaultRadiusKm = 20

// Bot is the part of *tgbotapi.BotAPI the handlers use.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Store keeps per-chat state.
type Store interface {
	SaveLocation(ctx context.Context, chatID int64, c types.Coordinates) error
	GetLocation(ctx context.Context, chatID int64) (*types.Coordinates, error)
	SaveWatch(ctx context.Context, w *types.Watch) error
	GetWatch(ctx context.Context, chatID int64) (*types.Watch, error)
	DeleteWatch(ctx context.Context, chatID int64) error
}

// WatchChecker evaluates a freshly saved watch.
type WatchChecker interface {
	CheckNow(ctx context.Context, chatID int64) error
}

type Handler struct {
	Bot     Bot
	Store   Store
	Search  checker.Searcher
	Checker WatchChecker

	log *zap.Logger
	loc *time.Location
	now func() time.Time

	mu     sync.Mutex
	drafts map[int64]*draft
}

func New(bot Bot, store Store, search checker.Searcher, chk WatchChecker, loc *time.Location, log *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		Bot:     bot,
		Store:   store,
		Search:  search,
		Checker: chk,
		log:     log.Named("telegram"),
		loc:     loc,
		now:     time.Now,
		drafts:  make(map[int64]*draft),
	}
}

// HandleUpdate routes one Telegram update.
func (h *Handler) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.Message != nil:
		h.HandleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		h.HandleCallback(ctx, u.CallbackQuery)
	}
}

func (h *Handler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	if msg.Location != nil {
		h.HandleLocation(ctx, msg)
		return
	}

	switch msg.Command() {
	case "start", "help":
		h.HandleStart(msg)
	case "search":
		h.HandleSearch(ctx, msg)
	case "watch":
		h.HandleWatch(ctx, msg)
	case "my_watch":
		h.HandleMyWatch(ctx, msg)
	case "cancel":
		h.HandleCancel(ctx, msg)
	default:
		h.reply(msg.Chat.ID, "Commande inconnue. Essaie /start")
	}
}

func (h *Handler) HandleStart(msg *tgbotapi.Message) {
	text := "👋 Salut ! Je cherche pour toi les terrains de padel libres autour d'Aix-en-Provence.\n\n" +
		"1. Partage ta position avec le bouton ci-dessous.\n" +
		"2. Utilise une commande :\n" +
		"/search 2026-05-16 18-21 [rayon km] — recherche ponctuelle (date, today ou demain)\n" +
		"/watch Sam,Dim 18-21 [rayon km] — alerte sur les nouveaux créneaux\n" +
		"/watch — alerte guidée avec boutons\n" +
		"/my_watch — voir mon alerte\n" +
		"/cancel — supprimer mon alerte"
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyMarkup = locationKeyboard()
	h.send(out)
}

func (h *Handler) HandleLocation(ctx context.Context, msg *tgbotapi.Message) {
	c := types.Coordinates{Lat: msg.Location.Latitude, Lon: msg.Location.Longitude}
	if err := h.Store.SaveLocation(ctx, msg.Chat.ID, c); err != nil {
		h.log.Error("save location", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
		h.reply(msg.Chat.ID, "⚠️ Impossible d'enregistrer ta position.")
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("📍 Position enregistrée (%.4f, %.4f).", c.Lat, c.Lon))
	out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	h.send(out)
}

// HandleSearch answers "/search <date> <HH-HH> [radius]".
func (h *Handler) HandleSearch(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 || len(args) > 3 {
		h.reply(chatID, "Usage : /search 2026-05-16 18-21 [rayon km]")
		return
	}

	date, err := parseDate(args[0], h.now().In(h.loc))
	if err != nil {
		h.reply(chatID, "⚠️ "+err.Error())
		return
	}
	from, to, err := parseHours(args[1])
	if err != nil {
		h.reply(chatID, "⚠️ "+err.Error())
		return
	}
	radius, err := parseRadius(args[2:])
	if err != nil {
		h.reply(chatID, "⚠️ "+err.Error())
		return
	}
	loc, ok := h.location(ctx, chatID)
	if !ok {
		return
	}

	h.reply(chatID, fmt.Sprintf("🔍 Recherche le %s entre %02dh et %02dh dans un rayon de %.0f km…", date, from, to, radius))
	slots, err := h.Search.Search(ctx, aggregator.Query{
		Date:      date,
		StartHour: from,
		EndHour:   to,
		Lat:       loc.Lat,
		Lon:       loc.Lon,
		RadiusKm:  radius,
	})
	var verr *aggregator.ValidationError
	switch {
	case errors.As(err, &verr):
		h.reply(chatID, "⚠️ Paramètre invalide ("+verr.Field+") : "+verr.Message)
		return
	case err != nil:
		h.log.Error("search failed", zap.Int64("chat_id", chatID), zap.Error(err))
		h.reply(chatID, "⚠️ La recherche a échoué, réessaie plus tard.")
		return
	}

	if len(slots) == 0 {
		h.reply(chatID, "Aucun créneau libre pour cette recherche.")
		return
	}
	h.reply(chatID, fmt.Sprintf("✅ %d créneaux trouvés :", len(slots)))
	for _, text := range checker.FormatSlots(slots) {
		h.reply(chatID, text)
	}
}

// HandleWatch saves "/watch <days> <HH-HH> [radius]". Without arguments
// it starts the guided flow.
func (h *Handler) HandleWatch(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		if _, ok := h.location(ctx, chatID); !ok {
			return
		}
		h.startDraft(chatID)
		h.SendDaysSelection(chatID)
		return
	}
	if len(args) < 2 || len(args) > 3 {
		h.reply(chatID, "Usage : /watch Sam,Dim 18-21 [rayon km]")
		return
	}

	days, err := parseDays(args[0])
	if err != nil {
		h.reply(chatID, "⚠️ "+err.Error())
		return
	}
	from, to, err := parseHours(args[1])
	if err != nil {
		h.reply(chatID, "⚠️ "+err.Error())
		return
	}
	radius, err := parseRadius(args[2:])
	if err != nil {
		h.reply(chatID, "⚠️ "+err.Error())
		return
	}
	h.createWatch(ctx, chatID, days, from, to, radius)
}

func (h *Handler) createWatch(ctx context.Context, chatID int64, days []string, from, to int, radius float64) {
	loc, ok := h.location(ctx, chatID)
	if !ok {
		return
	}
	w := &types.Watch{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		Lat:      loc.Lat,
		Lon:      loc.Lon,
		RadiusKm: radius,
		Days:     days,
		HourFrom: from,
		HourTo:   to,
	}
	if err := h.Store.SaveWatch(ctx, w); err != nil {
		h.log.Error("save watch", zap.Int64("chat_id", chatID), zap.Error(err))
		h.reply(chatID, "⚠️ Impossible d'enregistrer l'alerte.")
		return
	}
	h.log.Info("watch saved", zap.Int64("chat_id", chatID), zap.String("watch_id", w.ID))
	h.reply(chatID, "✅ Alerte enregistrée.\n\n"+describeWatch(w)+"\n\nJe vérifie tout de suite…")

	if h.Checker == nil {
		return
	}
	go func() {
		if err := h.Checker.CheckNow(context.WithoutCancel(ctx), chatID); err != nil {
			h.log.Warn("initial watch check failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}()
}

func (h *Handler) HandleMyWatch(ctx context.Context, msg *tgbotapi.Message) {
	w, err := h.Store.GetWatch(ctx, msg.Chat.ID)
	if err != nil {
		h.reply(msg.Chat.ID, "⚠️ Erreur lors du chargement de l'alerte.")
		return
	}
	if w == nil {
		h.reply(msg.Chat.ID, "Tu n'as pas encore d'alerte.\n\nUtilise /watch pour en créer une.")
		return
	}
	h.reply(msg.Chat.ID, "📬 Ton alerte :\n\n"+describeWatch(w))
}

func (h *Handler) HandleCancel(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	h.dropDraft(chatID)

	w, err := h.Store.GetWatch(ctx, chatID)
	if err != nil {
		h.reply(chatID, "⚠️ Erreur lors de la vérification de l'alerte.")
		return
	}
	if w == nil {
		h.reply(chatID, "Tu n'as pas d'alerte active.")
		return
	}
	if err := h.Store.DeleteWatch(ctx, chatID); err != nil {
		h.reply(chatID, "⚠️ Erreur lors de la suppression de l'alerte.")
		return
	}
	h.reply(chatID, "✅ Alerte supprimée. Tu ne recevras plus de notifications.")
}

// location returns the stored position of a chat, asking the user to share
// one when there is none.
func (h *Handler) location(ctx context.Context, chatID int64) (*types.Coordinates, bool) {
	loc, err := h.Store.GetLocation(ctx, chatID)
	if err != nil {
		h.log.Error("load location", zap.Int64("chat_id", chatID), zap.Error(err))
		h.reply(chatID, "⚠️ Erreur lors du chargement de ta position.")
		return nil, false
	}
	if loc == nil {
		out := tgbotapi.NewMessage(chatID, "📍 Partage d'abord ta position pour que je cherche autour de toi.")
		out.ReplyMarkup = locationKeyboard()
		h.send(out)
		return nil, false
	}
	return loc, true
}

func (h *Handler) reply(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	out.DisableWebPagePreview = true
	h.send(out)
}

func (h *Handler) send(c tgbotapi.Chattable) {
	if _, err := h.Bot.Send(c); err != nil {
		h.log.Warn("telegram send failed", zap.Error(err))
	}
}

func locationKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButtonLocation("📍 Partager ma position"),
	))
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return kb
}

func describeWatch(w *types.Watch) string {
	return fmt.Sprintf("📅 Jours : %s\n⏰ Heures : %02dh - %02dh\n📏 Rayon : %.0f km",
		formatDays(w.Days), w.HourFrom, w.HourTo, w.RadiusKm)
}

// parseDate accepts YYYY-MM-DD, "today"/"aujourdhui" and "tomorrow"/"demain".
func parseDate(v string, now time.Time) (string, error) {
	switch strings.ToLower(v) {
	case "today", "aujourdhui", "auj":
		return now.Format("2006-01-02"), nil
	case "tomorrow", "demain":
		return now.AddDate(0, 0, 1).Format("2006-01-02"), nil
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return "", fmt.Errorf("date invalide %q, format attendu AAAA-MM-JJ", v)
	}
	return v, nil
}

// parseHours reads "18-21" or "18h-21h".
func parseHours(v string) (int, int, error) {
	fromS, toS, ok := strings.Cut(strings.ToLower(v), "-")
	if !ok {
		return 0, 0, fmt.Errorf("plage horaire invalide %q, format attendu 18-21", v)
	}
	from, err1 := strconv.Atoi(strings.TrimSuffix(fromS, "h"))
	to, err2 := strconv.Atoi(strings.TrimSuffix(toS, "h"))
	if err1 != nil || err2 != nil || from < 0 || to > 23 || from > to {
		return 0, 0, fmt.Errorf("plage horaire invalide %q, heures entre 0 et 23", v)
	}
	return from, to, nil
}

func parseRadius(args []string) (float64, error) {
	if len(args) == 0 {
		return defaultRadiusKm, nil
	}
	r, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(args[0]), "km"), 64)
	if err != nil || r <= 0 {
		return 0, fmt.Errorf("rayon invalide %q", args[0])
	}
	return r, nil
}

var dayAliases = map[string]string{
	"mon": "Mon", "tue": "Tue", "wed": "Wed", "thu": "Thu", "fri": "Fri", "sat": "Sat", "sun": "Sun",
	"lun": "Mon", "mar": "Tue", "mer": "Wed", "jeu": "Thu", "ven": "Fri", "sam": "Sat", "dim": "Sun",
}

// parseDays reads a comma separated list of English or French day
// abbreviations and returns them in week order.
func parseDays(v string) ([]string, error) {
	picked := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		if len(p) > 3 {
			p = p[:3]
		}
		code, ok := dayAliases[p]
		if !ok {
			return nil, fmt.Errorf("jour inconnu %q", part)
		}
		picked[code] = true
	}
	var days []string
	for _, d := range weekDays {
		if picked[d.Code] {
			days = append(days, d.Code)
		}
	}
	return days, nil
}

func formatDays(days []string) string {
	if len(days) == 0 {
		return "aucun"
	}
	if len(days) == 7 {
		return "tous les jours"
	}
	names := make(map[string]string, len(weekDays))
	for _, d := range weekDays {
		names[d.Code] = d.Short
	}
	result := make([]string, 0, len(days))
	for _, d := range days {
		if name, ok := names[d]; ok {
			result = append(result, name)
		}
	}
	return strings.Join(result, ", ")
}
