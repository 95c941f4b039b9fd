package task

import (
	"strings"
	"time"
)

const (
	// TimeLayout is fixed-width and zero-padded so stored timestamps order
	// lexicographically.
	TimeLayout = "2006-01-02 15:04:05"
	DateLayout = "2006-01-02"
)

// Zone is the reference time zone (UTC+8) for cron evaluation, stored
// timestamps and the daily error reset.
var Zone = time.FixedZone("CST", 8*60*60)

// Format renders t in the reference zone.
func Format(t time.Time) string { return t.In(Zone).Format(TimeLayout) }

// FormatDate renders the calendar date of t in the reference zone.
func FormatDate(t time.Time) string { return t.In(Zone).Format(DateLayout) }

// Parse reads a timestamp written by Format. Empty or malformed input
// returns ok=false.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimeLayout, s, Zone)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SameDay reports whether a stored timestamp falls on the date of now.
func SameDay(stored string, now time.Time) bool {
	return len(stored) >= len(DateLayout) && stored[:len(DateLayout)] == FormatDate(now)
}
