package timeutils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is an opening interval on one weekday, in local wall clock time.
// Close is exclusive.
type Window struct {
	Day   time.Weekday
	Open  string // HH:MM
	Close string // HH:MM
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format %q, expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// LoadLocation is time.LoadLocation with UTC for an empty name.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// WithinWindows reports whether at, converted to tz, falls inside any window.
// DST changes are handled by evaluating the wall clock in the target zone.
func WithinWindows(at time.Time, tz string, windows []Window) (bool, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	local := at.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	for _, w := range windows {
		if w.Day != local.Weekday() {
			continue
		}
		open, err := ParseClock(w.Open)
		if err != nil {
			return false, err
		}
		closeAt, err := ParseClock(w.Close)
		if err != nil {
			return false, err
		}
		if minutes >= open && minutes < closeAt {
			return true, nil
		}
	}
	return false, nil
}
