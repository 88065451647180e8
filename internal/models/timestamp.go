package models

import "time"

// TimestampLayout is fixed width so that string order equals time order.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a value produced by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}
