package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

const localLayout = "2006-01-02 15:04:05"

// ParseInstant parses an absolute or relative instant.
//
// Accepted forms:
//   - RFC3339 / RFC3339Nano: "2024-05-01T09:00:00+07:00"
//   - local wall time in loc: "2024-05-01 09:00:00"
//   - offset from now: "+90s", "+1h30m"
//   - Unix milliseconds: "1672503000000"
func ParseInstant(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("instant required")
	}
	if loc == nil {
		loc = time.Local
	}
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid offset %q: %w", raw, err)
		}
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(localLayout, s, loc); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("invalid instant %q (use RFC3339, %q, +duration or unix millis)", raw, localLayout)
}
