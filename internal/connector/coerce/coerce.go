// Package coerce turns untyped feed values into timestamps and numbers.
// Both conversions are strict: anything ambiguous is an error.
package coerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errEmpty     = errors.New("empty value")
	errNotFinite = errors.New("not a finite number")
)

// zoneLayouts carry their own offset; localLayouts are read in the caller's location.
var (
	zoneLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02 15:04:05Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02",
		"02.01.2006",
		"02.01.2006 15:04",
	}
)

// Timestamp parses raw with the known layouts. Values without a zone are
// interpreted in loc.
func Timestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errEmpty
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zoneLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.In(loc), nil
		}
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// Float converts a decoded value to float64. Strings are parsed as decimal
// numbers; blanks, NaN and infinities are rejected.
func Float(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, errEmpty
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, errEmpty
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

// String renders a decoded value for error messages and text columns.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
