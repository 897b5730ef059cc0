package message

import (
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// propertyDateLayouts parse time properties that arrive as text, in order.
var propertyDateLayouts = []string{
	"Mon Jan 02 15:04:05 MST 2006",
	"Mon Jan _2 15:04:05 MST 2006",
	"Mon Jan 2 15:04:05 MST 2006",
}

// headerDateLayouts parse Date: header values that RFC 5322 parsing rejects.
var headerDateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05",
}

// zoneOffsets resolves zone abbreviations time.Parse does not know. It
// holds the RFC 5322 obsolete zones plus the common European ones.
var zoneOffsets = map[string]int{
	"EST": -5 * 3600, "EDT": -4 * 3600,
	"CST": -6 * 3600, "CDT": -5 * 3600,
	"MST": -7 * 3600, "MDT": -6 * 3600,
	"PST": -8 * 3600, "PDT": -7 * 3600,
	"WET": 0, "WEST": 1 * 3600,
	"CET": 1 * 3600, "CEST": 2 * 3600,
	"EET": 2 * 3600, "EEST": 3 * 3600,
}

// resolveZone replaces the zero offset time.Parse invents for an unknown
// zone abbreviation with the abbreviation's real offset.
func resolveZone(t time.Time) time.Time {
	name, offset := t.Zone()
	if offset != 0 {
		return t
	}
	off, ok := zoneOffsets[strings.ToUpper(name)]
	if !ok || off == 0 {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.FixedZone(name, off))
}

// ParseDateString parses a date rendered like "Tue Mar 05 08:09:10 UTC 2024".
// It returns the zero time when no layout matches.
func ParseDateString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range propertyDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return resolveZone(t)
		}
	}
	return time.Time{}
}

// DateFromHeaders returns the first Date: header line that parses.
func DateFromHeaders(headers string) time.Time {
	for _, line := range strings.Split(headers, "\n") {
		if !strings.HasPrefix(strings.ToLower(line), "date:") {
			continue
		}
		if t := parseHeaderDate(line[len("date:"):]); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func parseHeaderDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	var h mail.Header
	h.Set("Date", raw)
	if t, err := h.Date(); err == nil {
		return resolveZone(t)
	}
	for _, layout := range headerDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return resolveZone(t)
		}
	}
	// trailing zone comment, e.g. "(PST)"
	if i := strings.LastIndex(raw, " ("); i > 0 && strings.HasSuffix(raw, ")") {
		return parseHeaderDate(raw[:i])
	}
	return time.Time{}
}

// FromEmailFromHeaders returns the address of the first From: header line
// that carries one, with angle brackets removed.
func FromEmailFromHeaders(headers string) string {
	for _, line := range strings.Split(headers, "\n") {
		if !strings.HasPrefix(strings.ToUpper(line), "FROM: ") {
			continue
		}
		for _, tok := range strings.Split(line, " ") {
			if strings.Contains(tok, "@") {
				tok = strings.NewReplacer("<", "", ">", "").Replace(tok)
				return strings.TrimSpace(tok)
			}
		}
	}
	return ""
}
