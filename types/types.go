package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Court types shown to users. Values are kept in French because they are
// rendered as-is by the frontend.
const (
	CourtIndoor      = "intérieur"
	CourtOutdoor     = "extérieur"
	CourtMixed       = "mixte"
	CourtUnspecified = "non spécifié"
)

// DefaultDuration is the slot length used when the upstream does not say.
const DefaultDuration = 90

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Club describes a padel club known to the aggregator. Loaded once at start.
type Club struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Address    string            `json:"address"`
	Type       string            `json:"type"`
	CourtType  string            `json:"courtType"`
	BookingURL string            `json:"bookingUrl"`
	Courts     map[string]string `json:"-"` // court name -> court type
}

// CourtTypeOf returns the static type of a court, falling back to the club
// default and then to CourtUnspecified.
func (c Club) CourtTypeOf(court string) string {
	if t, ok := c.Courts[court]; ok && t != "" {
		return t
	}
	if c.CourtType != "" {
		return c.CourtType
	}
	return CourtUnspecified
}

// Slot is one bookable court-time unit at one club.
type Slot struct {
	Date              string       `json:"date"`    // YYYY-MM-DD
	Time              string       `json:"time"`    // HH:MM
	EndTime           string       `json:"endTime"` // HH:MM
	DurationMinutes   int          `json:"durationMinutes"`
	Court             string       `json:"court"`
	CourtType         string       `json:"courtType,omitempty"`
	Type              string       `json:"type,omitempty"`
	Price             string       `json:"price"`
	ClubID            string       `json:"clubId,omitempty"`
	ClubName          string       `json:"clubName,omitempty"`
	ReservationLink   string       `json:"reservationLink"`
	Available         bool         `json:"available"`
	Distance          float64      `json:"distance"`
	Address           string       `json:"address,omitempty"`
	Coordinates       *Coordinates `json:"coordinates,omitempty"`
	SearchCoordinates *Coordinates `json:"searchCoordinates,omitempty"`
}

// UniqueID identifies a slot across clubs. Used for watch diffs.
func (s *Slot) UniqueID() string {
	return fmt.Sprintf("%s_%s_%s_%s", s.ClubID, s.Court, s.Date, s.Time)
}

// Minutes returns the start time as minutes since midnight, or -1 when the
// time is not a valid HH:MM value.
func (s *Slot) Minutes() int {
	return ParseClock(s.Time)
}

// ParseClock parses "HH:MM" into minutes since midnight. It returns -1 on
// malformed input or out-of-range values.
func ParseClock(v string) int {
	parts := strings.Split(v, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return -1
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return -1
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return -1
	}
	return h*60 + m
}

// FormatClock renders minutes since midnight as "HH:MM", wrapping modulo 24h.
func FormatClock(minutes int) string {
	minutes %= 24 * 60
	if minutes < 0 {
		minutes += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// HourRange restricts a fetch to slots starting within [From, To] hours.
type HourRange struct {
	From int
	To   int
}

// Contains reports whether a slot starting at hour h is inside the range.
func (r *HourRange) Contains(h int) bool {
	if r == nil {
		return true
	}
	return h >= r.From && h <= r.To
}

func (r *HourRange) String() string {
	if r == nil {
		return "all"
	}
	return fmt.Sprintf("%02d-%02d", r.From, r.To)
}

// Cookie is a persisted session cookie. Expires is in epoch seconds, -1 for
// a browser-session cookie.
type Cookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Expires float64 `json:"expires"`
	Domain  string  `json:"domain,omitempty"`
	Path    string  `json:"path,omitempty"`
}

// SessionRecord is the durable authentication state of one club account.
type SessionRecord struct {
	Cookies   []Cookie `json:"cookies"`
	ExpiresAt int64    `json:"expiresAt"` // epoch millis
	CreatedAt int64    `json:"createdAt"` // epoch millis
}

// CookieHeader renders the cookies as a Cookie request header value.
func (r *SessionRecord) CookieHeader() string {
	parts := make([]string, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Watch is a saved search that is re-run periodically for a Telegram chat.
type Watch struct {
	ID       string   `json:"id"`
	ChatID   int64    `json:"chatId"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	RadiusKm float64  `json:"radiusKm"`
	Days     []string `json:"days"` // ["Mon", "Tue", ...]
	HourFrom int      `json:"hourFrom"`
	HourTo   int      `json:"hourTo"`
}
