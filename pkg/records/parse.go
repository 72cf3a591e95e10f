package records

import (
	"strings"
	"time"
)

// ParseBool accepts the boolean spellings spreadsheet users actually type.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
}

var tsLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"02.01.2006 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseTimestamp recognises the date and timestamp layouts commonly found in
// spreadsheet exports. Values without a zone are interpreted as UTC.
//
// It returns the layout that matched so callers can report it.
func ParseTimestamp(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	// No supported layout renders shorter than 10 characters.
	if len(s) < 10 {
		return time.Time{}, "", false
	}
	for _, lay := range tsLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}
