package appeals

import (
	"strings"
	"time"
)

// EntryTimeLayout is the prefix every message entry carries.
const EntryTimeLayout = "2006-01-02 15:04:05"

// RetentionWindow is how long message entries are kept.
const RetentionWindow = 30 * 24 * time.Hour

// FormatEntry renders one accumulated-messages line.
func FormatEntry(ts time.Time, text string) string {
	return ts.Format(EntryTimeLayout) + ": " + text
}

// Prune drops entries older than the retention window, counting an entry
// aged exactly the window as expired. Lines without a parseable leading
// timestamp are preserved: better to keep junk than to eat history.
//
// The comparison is done on the formatted timestamps (the layout sorts
// lexicographically), so entries written under any wall clock compare
// consistently against a cutoff rendered by the same clock.
func Prune(accumulated string, now time.Time) string {
	if accumulated == "" {
		return ""
	}
	cutoff := now.Add(-RetentionWindow).Format(EntryTimeLayout)
	var kept []string
	for _, line := range strings.Split(accumulated, "\n") {
		if line == "" {
			continue
		}
		if stamp, ok := entryStamp(line); ok && stamp <= cutoff {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// entryStamp extracts and validates the leading timestamp of a line.
func entryStamp(line string) (string, bool) {
	if len(line) < len(EntryTimeLayout)+1 || line[len(EntryTimeLayout)] != ':' {
		return "", false
	}
	stamp := line[:len(EntryTimeLayout)]
	if _, err := time.Parse(EntryTimeLayout, stamp); err != nil {
		return "", false
	}
	return stamp, true
}
