package checker

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"padel-finder/types"
)

// Notifier delivers a text message to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Sender is the part of *tgbotapi.BotAPI used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts notifications through a Telegram bot.
type TelegramNotifier struct {
	bot Sender
}

func NewTelegramNotifier(bot Sender) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

func (n *TelegramNotifier) Notify(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message to %d: %w", chatID, err)
	}
	return nil
}

// FormatSlots renders slots as one message per club, clubs in order of
// first appearance. Telegram caps a message at 4096 characters, so long
// club lists are cut.
func FormatSlots(slots []types.Slot) []string {
	const maxLines = 40

	var order []string
	byClub := make(map[string][]types.Slot)
	for _, s := range slots {
		if _, ok := byClub[s.ClubID]; !ok {
			order = append(order, s.ClubID)
		}
		byClub[s.ClubID] = append(byClub[s.ClubID], s)
	}

	messages := make([]string, 0, len(order))
	for _, id := range order {
		list := byClub[id]
		first := list[0]

		var b strings.Builder
		fmt.Fprintf(&b, "🎾 %s (%.1f km)\n", first.ClubName, first.Distance)
		if first.Address != "" {
			fmt.Fprintf(&b, "📍 %s\n", first.Address)
		}
		b.WriteString("\n")
		for i, s := range list {
			if i == maxLines {
				fmt.Fprintf(&b, "… et %d autres créneaux\n", len(list)-maxLines)
				break
			}
			fmt.Fprintf(&b, "%s %s-%s · %s", s.Date, s.Time, s.EndTime, s.Court)
			if s.CourtType != "" && s.CourtType != types.CourtUnspecified {
				fmt.Fprintf(&b, " (%s)", s.CourtType)
			}
			if s.Price != "" && s.Price != "0" && s.Price != "0.00" {
				fmt.Fprintf(&b, " · %s €", s.Price)
			}
			b.WriteString("\n")
		}
		if first.ReservationLink != "" {
			fmt.Fprintf(&b, "\nRéserver : %s", first.ReservationLink)
		}
		messages = append(messages, b.String())
	}
	return messages
}
