package main

import (
	"time"

	"github.com/pkg/errors"
)

const dateLayout = "2006-01-02"

// checkDay validates the positional day argument of the "list" commands.
func checkDay(day string) error {
	if day != "" && day != "today" {
		return errors.Errorf("unsupported day %q; only 'today' is supported", day)
	}
	return nil
}

// dayBounds returns local midnight of now's day and of the next day.
func dayBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

// parseTimeFlag accepts RFC3339 timestamps or a YYYY-MM-DD date, which is
// read as local midnight.
func parseTimeFlag(name, value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateLayout, value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, errors.Errorf("invalid --%s %q: expected RFC3339 or YYYY-MM-DD", name, value)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// nullable maps an empty page token to JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
