package timeutil

import (
	"fmt"
	"time"
)

// WeekFormat is the canonical storage format for a week-start date.
const WeekFormat = "2006-01-02"

// TruncateWeek returns the Monday 00:00 UTC that begins the week containing t.
// All weekly series keys are normalised through this function so that
// observations, baselines and signals agree on week identity.
func TruncateWeek(t time.Time) time.Time {
	t = t.UTC()
	// Weekday() has Sunday == 0; shift so Monday == 0.
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// FormatWeek renders a week start as its canonical YYYY-MM-DD string.
func FormatWeek(t time.Time) string {
	return TruncateWeek(t).Format(WeekFormat)
}

// ParseWeek parses a YYYY-MM-DD string and validates that it falls on a
// Monday, the only legal week boundary.
func ParseWeek(s string) (time.Time, error) {
	t, err := time.Parse(WeekFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid week start %q: %w", s, err)
	}
	if t.Weekday() != time.Monday {
		return time.Time{}, fmt.Errorf("week start %q is not a Monday", s)
	}
	return t, nil
}

// PrevWeek returns the week start immediately before w.
func PrevWeek(w time.Time) time.Time {
	return TruncateWeek(w).AddDate(0, 0, -7)
}

// NextWeek returns the week start immediately after w.
func NextWeek(w time.Time) time.Time {
	return TruncateWeek(w).AddDate(0, 0, 7)
}

// WeeksBetween returns the number of whole weeks from a to b. Negative when b
// precedes a.
func WeeksBetween(a, b time.Time) int {
	return int(TruncateWeek(b).Sub(TruncateWeek(a)) / (7 * 24 * time.Hour))
}

// LatestCompletedWeek returns the most recent week start whose week has fully
// elapsed as of now. During week N the latest completed week is N-1.
func LatestCompletedWeek(now time.Time) time.Time {
	return PrevWeek(TruncateWeek(now))
}
