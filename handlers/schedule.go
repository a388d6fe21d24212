package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var weekDays = []struct {
	Code  string
	Name  string
	Short string
}{
	{"Mon", "Lundi", "Lun"},
	{"Tue", "Mardi", "Mar"},
	{"Wed", "Mercredi", "Mer"},
	{"Thu", "Jeudi", "Jeu"},
	{"Fri", "Vendredi", "Ven"},
	{"Sat", "Samedi", "Sam"},
	{"Sun", "Dimanche", "Dim"},
}

var hourPresets = []struct {
	Label string
	Range string
}{
	{"🌅 Matin (08h-12h)", "08-12"},
	{"☀️ Midi (12h-14h)", "12-14"},
	{"🌆 Soir (17h-22h)", "17-22"},
	{"🌍 Toute la journée (08h-22h)", "08-22"},
}

// draft is a watch being built through the inline keyboards.
type draft struct {
	days map[string]bool
}

func (d *draft) selected() []string {
	var out []string
	for _, wd := range weekDays {
		if d.days[wd.Code] {
			out = append(out, wd.Code)
		}
	}
	return out
}

func (h *Handler) startDraft(chatID int64) {
	h.mu.Lock()
	h.drafts[chatID] = &draft{days: make(map[string]bool)}
	h.mu.Unlock()
}

func (h *Handler) dropDraft(chatID int64) {
	h.mu.Lock()
	delete(h.drafts, chatID)
	h.mu.Unlock()
}

// updateDraft applies fn to the draft of chatID and returns the selected
// days, or false when the chat has no draft.
func (h *Handler) updateDraft(chatID int64, fn func(d *draft)) ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.drafts[chatID]
	if !ok {
		return nil, false
	}
	if fn != nil {
		fn(d)
	}
	return d.selected(), true
}

// HandleCallback routes inline keyboard presses.
func (h *Handler) HandleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	data := cq.Data

	switch {
	case strings.HasPrefix(data, "day:"):
		h.HandleDayToggle(cq, strings.TrimPrefix(data, "day:"))
	case data == "days_all":
		h.setDays(cq, "✅ Toute la semaine", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun")
	case data == "days_weekdays":
		h.setDays(cq, "✅ Semaine (Lun-Ven)", "Mon", "Tue", "Wed", "Thu", "Fri")
	case data == "days_weekend":
		h.setDays(cq, "✅ Week-end", "Sat", "Sun")
	case data == "days_done":
		h.HandleDaysDone(cq)
	case strings.HasPrefix(data, "hours:"):
		h.HandleHoursPreset(ctx, cq, strings.TrimPrefix(data, "hours:"))
	default:
		h.answer(cq, "Commande inconnue")
	}
}

func (h *Handler) SendDaysSelection(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "📅 Étape 1/2 : choisis les jours\n\nQuels jours dois-je surveiller ?")
	msg.ReplyMarkup = buildDaysKeyboard(nil)
	h.send(msg)
}

func buildDaysKeyboard(selectedDays []string) tgbotapi.InlineKeyboardMarkup {
	selected := make(map[string]bool)
	for _, d := range selectedDays {
		selected[d] = true
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, day := range weekDays {
		label := day.Name
		if selected[day.Code] {
			label = "✅ " + day.Name
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, "day:"+day.Code)))
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Toute la semaine", "days_all"),
		tgbotapi.NewInlineKeyboardButtonData("Lun-Ven", "days_weekdays"),
		tgbotapi.NewInlineKeyboardButtonData("Week-end", "days_weekend"),
	))
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Valider", "days_done")))

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (h *Handler) HandleDayToggle(cq *tgbotapi.CallbackQuery, day string) {
	chatID := cq.Message.Chat.ID
	days, ok := h.updateDraft(chatID, func(d *draft) {
		d.days[day] = !d.days[day]
	})
	if !ok {
		h.answer(cq, "Alerte expirée, relance /watch")
		return
	}
	h.send(tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, buildDaysKeyboard(days)))
	h.answer(cq, "Mis à jour")
}

func (h *Handler) setDays(cq *tgbotapi.CallbackQuery, confirm string, codes ...string) {
	chatID := cq.Message.Chat.ID
	days, ok := h.updateDraft(chatID, func(d *draft) {
		d.days = make(map[string]bool, len(codes))
		for _, c := range codes {
			d.days[c] = true
		}
	})
	if !ok {
		h.answer(cq, "Alerte expirée, relance /watch")
		return
	}
	h.send(tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, buildDaysKeyboard(days)))
	h.answer(cq, confirm)
}

func (h *Handler) HandleDaysDone(cq *tgbotapi.CallbackQuery) {
	chatID := cq.Message.Chat.ID
	days, ok := h.updateDraft(chatID, nil)
	if !ok {
		h.answer(cq, "Alerte expirée, relance /watch")
		return
	}
	if len(days) == 0 {
		h.answer(cq, "⚠️ Choisis au moins un jour")
		return
	}
	h.answer(cq, "✅ Jours choisis")
	h.SendHoursSelection(chatID)
}

func (h *Handler) SendHoursSelection(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "⏰ Étape 2/2 : choisis la plage horaire")
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range hourPresets {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(p.Label, "hours:"+p.Range)))
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.send(msg)
}

func (h *Handler) HandleHoursPreset(ctx context.Context, cq *tgbotapi.CallbackQuery, hours string) {
	chatID := cq.Message.Chat.ID
	from, to, err := parseHours(hours)
	if err != nil {
		h.answer(cq, "⚠️ Plage horaire invalide")
		return
	}
	days, ok := h.updateDraft(chatID, nil)
	if !ok || len(days) == 0 {
		h.answer(cq, "Alerte expirée, relance /watch")
		return
	}
	h.dropDraft(chatID)
	h.answer(cq, "✅ Plage horaire choisie")
	h.createWatch(ctx, chatID, days, from, to, defaultRadiusKm)
}

func (h *Handler) answer(cq *tgbotapi.CallbackQuery, text string) {
	if _, err := h.Bot.Request(tgbotapi.NewCallback(cq.ID, text)); err != nil {
		h.log.Debug("callback answer failed", zap.Error(err))
	}
}
