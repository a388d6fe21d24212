package parser

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"padel-finder/types"
)

// placeholderCourt labels slots whose portal does not name the court.
const placeholderCourt = "Terrain non spécifié"

// rawSlot is a free slot as read from a portal, before normalization.
type rawSlot struct {
	Time     string
	Court    string
	Duration int // minutes, 0 when unknown
	Price    string
	Type     string
	Link     string
}

// normalizer turns raw slots of one club and date into types.Slot values.
// The first slot seen for a (time, court) pair wins.
type normalizer struct {
	club        types.Club
	date        string
	hours       *types.HourRange
	placeholder bool
	log         *zap.Logger

	seen    map[string]bool
	out     []types.Slot
	skipped int
}

func newNormalizer(club types.Club, date string, hours *types.HourRange, log *zap.Logger) *normalizer {
	return &normalizer{
		club:  club,
		date:  date,
		hours: hours,
		log:   log,
		seen:  make(map[string]bool),
	}
}

// withPlaceholder labels unnamed courts with placeholderCourt instead of
// dropping their slots.
func (n *normalizer) withPlaceholder() *normalizer {
	n.placeholder = true
	return n
}

// add normalizes r and keeps it unless it is malformed, out of the hour
// range or a duplicate. It reports whether the slot was kept.
func (n *normalizer) add(r rawSlot) bool {
	t := normalizeTime(r.Time)
	start := types.ParseClock(t)
	if start < 0 {
		n.skipped++
		n.log.Debug("skipping slot with unparseable time", zap.String("time", r.Time))
		return false
	}

	court := cleanCourtName(r.Court)
	if court == "" {
		if !n.placeholder {
			n.skipped++
			n.log.Debug("skipping slot without court", zap.String("time", t))
			return false
		}
		court = placeholderCourt
	}

	if !n.hours.Contains(start / 60) {
		return false
	}

	key := t + "|" + court
	if n.seen[key] {
		return false
	}
	n.seen[key] = true

	dur := r.Duration
	if dur <= 0 {
		dur = types.DefaultDuration
	}
	price := r.Price
	if price == "" {
		price = "0"
	}
	link := r.Link
	if link == "" {
		link = n.club.BookingURL
	}

	n.out = append(n.out, types.Slot{
		Date:            n.date,
		Time:            t,
		EndTime:         types.FormatClock(start + dur),
		DurationMinutes: dur,
		Court:           court,
		CourtType:       n.courtType(court, r.Type),
		Type:            r.Type,
		Price:           price,
		ClubID:          n.club.ID,
		ClubName:        n.club.Name,
		ReservationLink: link,
		Available:       true,
	})
	return true
}

// courtType prefers the static court map, then a uniform club type, then
// the type reported by the portal.
func (n *normalizer) courtType(court, reported string) string {
	if t, ok := n.club.Courts[court]; ok {
		return t
	}
	switch n.club.CourtType {
	case types.CourtIndoor, types.CourtOutdoor:
		return n.club.CourtType
	}
	if reported != "" {
		return reported
	}
	return types.CourtUnspecified
}

// slots returns the kept slots ordered by time, then court.
func (n *normalizer) slots() []types.Slot {
	if n.skipped > 0 {
		n.log.Warn("skipped malformed slots", zap.String("date", n.date), zap.Int("skipped", n.skipped))
	}
	out := n.out
	if out == nil {
		out = []types.Slot{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].Court < out[j].Court
	})
	return out
}

// normalizeTime brings the time notations seen on portals to "HH:MM":
// "9:0" -> "09:00", "9h30" -> "09:30", "18h" -> "18:00",
// "09:00:00" -> "09:00", "2026-05-12T09:00:00+02:00" -> "09:00".
// Anything else is returned trimmed and fails types.ParseClock.
func normalizeTime(t string) string {
	t = strings.TrimSpace(t)
	if i := strings.IndexByte(t, 'T'); i >= 0 && i < len(t)-1 {
		t = t[i+1:]
		if j := strings.IndexAny(t, "+-Z"); j >= 0 {
			t = t[:j]
		}
	}
	t = strings.NewReplacer("h", ":", "H", ":").Replace(t)
	if strings.HasSuffix(t, ":") {
		t += "00"
	}

	parts := strings.Split(t, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return t
	}
	hour, minute := parts[0], parts[1]
	if !isDigits(hour) || !isDigits(minute) || len(hour) > 2 || len(minute) > 2 {
		return t
	}
	if len(hour) == 1 {
		hour = "0" + hour
	}
	if len(minute) == 1 {
		minute = "0" + minute
	}
	return hour + ":" + minute
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// cleanCourtName collapses whitespace: " Padel \n 1 " -> "Padel 1".
func cleanCourtName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// formatCents renders an amount in cents as "36.00".
func formatCents(cents int) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// formatPrice renders a decimal price as "36.00". Accepts "36", "36,5",
// "36.50 EUR" and "36 €". Unreadable values give "".
func formatPrice(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(v, "EUR")
	v = strings.TrimSuffix(v, "€")
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
	if v == "" {
		return ""
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
