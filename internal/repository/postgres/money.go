package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// numericStringToCents converts a NUMERIC column rendered as text to cents,
// rounding half away from zero.
func numericStringToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty numeric string")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}

	return d.Shift(2).Round(0).IntPart(), nil
}

func centsToNumericString(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// centsFromEventData reads an integer amount stored in event data. Values
// come back as float64 after a JSON round trip.
func centsFromEventData(data map[string]any, key string) (int64, bool) {
	switch v := data[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
