package utils

import "time"

// NowUTC returns current time in UTC timezone.
// Used throughout the codebase for consistent timestamp handling.
// This centralized function simplifies mocking in tests and ensures
// consistent UTC usage across all components.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// TruncateToHour zeroes out minute, second and sub-second components.
func TruncateToHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// IsHourAligned reports whether t has zero minute, second and sub-second
// components once normalized to UTC. Event timestamps must satisfy this
// before they reach the queue, so downstream code never re-checks. The
// UTC normalization matters: a wall clock on the hour in a fractional
// offset zone (such as +05:30) is not on the hour in UTC, and events
// persist in UTC.
func IsHourAligned(t time.Time) bool {
	u := t.UTC()
	return u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0
}
