package utils

import "time"

// Now returns the current time in UTC. Every timestamp the engine persists
// or compares is UTC; cooldown and daily-limit windows misbehave across a
// DST boundary otherwise.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatISO8601 renders t as an RFC3339 UTC string for API responses.
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
