package utils

import (
	"time"
)

// Layouts used for quota period keys.
const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

// DayKey returns the UTC calendar day of t, e.g. "2026-10-16".
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// MonthKey returns the UTC calendar month of t, e.g. "2026-10".
func MonthKey(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}

// StartOfNextDay returns midnight UTC of the day after t.
func StartOfNextDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// StartOfNextMonth returns midnight UTC on the first day of the month after t.
func StartOfNextMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// YearsBetween returns the fractional number of years from a to b.
// Negative when b is before a.
func YearsBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / (24 * 365.25)
}

// ParseDate parses the date formats commonly returned by property data
// providers. It returns the zero time when nothing matches.
func ParseDate(s string) time.Time {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05",
		DayLayout,
		"2006/01/02",
		"01/02/2006",
		"Jan 2, 2006",
		"January 2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
