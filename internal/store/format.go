package store

import (
	"strings"
	"time"
)

const displayLayout = "2006-01-02 15:04:05"

// FormatTime renders an instant the way task listings show it.
func FormatTime(t time.Time) string {
	return t.Format(displayLayout)
}

// FormatEntry renders "[2006-01-02 15:04:05] -> description".
func FormatEntry(e Entry) string {
	return "[" + FormatTime(e.When) + "] -> " + e.Description
}

// FormatEntries renders one line per entry.
func FormatEntries(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatEntry(e))
	}
	return b.String()
}

// FormatRange renders the interval with its inclusivity, e.g. "[a, b)".
func FormatRange(start, end time.Time, b Bounds) string {
	l, r := "(", ")"
	if b.IncludeStart {
		l = "["
	}
	if b.IncludeEnd {
		r = "]"
	}
	return l + FormatTime(start) + ", " + FormatTime(end) + r
}
