package aggregator

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidationError is a caller error found before any club is queried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Query is one availability search.
type Query struct {
	Date      string  // YYYY-MM-DD
	StartHour int     // 0-23, inclusive
	EndHour   int     // 0-23, inclusive
	Lat       float64 // search centre
	Lon       float64
	RadiusKm  float64
}

// Validate checks q and returns a *ValidationError on the first problem.
func (q Query) Validate() error {
	if !datePattern.MatchString(q.Date) {
		return invalid("date", "must be YYYY-MM-DD, got %q", q.Date)
	}
	if _, err := time.Parse("2006-01-02", q.Date); err != nil {
		return invalid("date", "%q is not a calendar date", q.Date)
	}
	if q.StartHour < 0 || q.StartHour > 23 {
		return invalid("startHour", "must be between 0 and 23, got %d", q.StartHour)
	}
	if q.EndHour < 0 || q.EndHour > 23 {
		return invalid("endHour", "must be between 0 and 23, got %d", q.EndHour)
	}
	if q.StartHour > q.EndHour {
		return invalid("startHour", "must not be after endHour (%d > %d)", q.StartHour, q.EndHour)
	}
	if !finite(q.Lat) || q.Lat < -90 || q.Lat > 90 {
		return invalid("latitude", "must be between -90 and 90")
	}
	if !finite(q.Lon) || q.Lon < -180 || q.Lon > 180 {
		return invalid("longitude", "must be between -180 and 180")
	}
	if !finite(q.RadiusKm) || q.RadiusKm <= 0 {
		return invalid("radius", "must be a positive number of kilometres")
	}
	return nil
}

// ParseQuery reads a Query from URL parameters: date, startHour, endHour,
// latitude (or lat), longitude (or lon) and radius. Missing or non-numeric
// values are reported as *ValidationError.
func ParseQuery(v url.Values) (Query, error) {
	var q Query
	var err error

	q.Date = strings.TrimSpace(v.Get("date"))
	if q.Date == "" {
		return q, invalid("date", "is required")
	}
	if q.StartHour, err = intParam(v, "startHour"); err != nil {
		return q, err
	}
	if q.EndHour, err = intParam(v, "endHour"); err != nil {
		return q, err
	}
	if q.Lat, err = floatParam(v, "latitude", "lat"); err != nil {
		return q, err
	}
	if q.Lon, err = floatParam(v, "longitude", "lon"); err != nil {
		return q, err
	}
	if q.RadiusKm, err = floatParam(v, "radius", "radiusKm"); err != nil {
		return q, err
	}
	return q, q.Validate()
}

func intParam(v url.Values, name string) (int, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return 0, invalid(name, "is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(name, "must be an integer, got %q", raw)
	}
	return n, nil
}

func floatParam(v url.Values, name, alias string) (float64, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		raw = strings.TrimSpace(v.Get(alias))
	}
	if raw == "" {
		return 0, invalid(name, "is required")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || !finite(f) {
		return 0, invalid(name, "must be a number, got %q", raw)
	}
	return f, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
