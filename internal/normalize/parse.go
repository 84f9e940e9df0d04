package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/afflux/feedsync/internal/model"
)

// ParsePrice parses a localized decimal, tolerating a comma decimal separator
// and thousands grouping ("1.234,56", "1,234.56", "12,99"). A non-positive or
// unparsable value returns nil: malformed price is treated as missing, never
// as fatal.
func ParsePrice(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "€$£ ")
	if s == "" {
		return nil
	}

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// The rightmost separator is the decimal point.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// A comma followed by exactly three digits is grouping ("1,234");
		// anything else is a decimal separator ("12,99").
		if len(s)-lastComma-1 == 3 && strings.Count(s, ",") >= 1 && lastComma > 0 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// timeFormats are tried in order for provider last-updated values.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
	"02/01/2006",
}

// ParseTime parses an ISO-8601 or RFC-style timestamp. Returns nil when the
// value is empty or unparsable.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// ParseScore parses an explicit upstream score field. Returns nil when it is
// absent or not numeric; clamping happens in the scorer.
func ParseScore(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	v := int(f)
	return &v
}

// BandFor classifies a price into low/mid/high using the configured
// thresholds. A missing price has no band.
func BandFor(price *float64, low, high float64) model.PriceBand {
	if price == nil {
		return ""
	}
	switch {
	case *price < low:
		return model.BandLow
	case *price <= high:
		return model.BandMid
	default:
		return model.BandHigh
	}
}
