package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LocalLayout is the "yyyy-MM-dd HH:mm:ss" due time format, read in the server's zone
const LocalLayout = "2006-01-02 15:04:05"

// ErrNoDueTime is returned when neither a due time nor a delay is given
var ErrNoDueTime = errors.New("due_at or delay is required")

// FormatTimestamp formats a timestamp to RFC3339
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseTimestamp parses RFC3339 (with optional fractional seconds) or LocalLayout
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(LocalLayout, s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: expected RFC3339 or %q", s, LocalLayout)
}

// ResolveDueTime turns an absolute due time or a relative delay into a due time.
// Exactly one of dueAt and delay must be set.
func ResolveDueTime(dueAt, delay string, now time.Time) (time.Time, error) {
	dueAt = strings.TrimSpace(dueAt)
	delay = strings.TrimSpace(delay)

	switch {
	case dueAt != "" && delay != "":
		return time.Time{}, errors.New("due_at and delay are mutually exclusive")
	case dueAt != "":
		return ParseTimestamp(dueAt)
	case delay != "":
		d, err := time.ParseDuration(delay)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid delay %q: %w", delay, err)
		}
		if d < 0 {
			return time.Time{}, fmt.Errorf("invalid delay %q: must not be negative", delay)
		}
		return now.Add(d), nil
	}
	return time.Time{}, ErrNoDueTime
}

// DurationUntil returns the time left until t rounded to the second, zero once t has passed
func DurationUntil(t, now time.Time) time.Duration {
	if !t.After(now) {
		return 0
	}
	return t.Sub(now).Round(time.Second)
}
