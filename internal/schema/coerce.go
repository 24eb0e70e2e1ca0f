package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	time.DateTime,
	"2006-01-02T15:04:05",
	"02/01/2006",
}

// Coerce converts a raw staging or warehouse value to the Go type of kind:
// int64, float64, string or time.Time (UTC midnight).
//
// nil and blank strings coerce to nil with no error; deciding whether nil is
// acceptable is the caller's job. Driver types such as pgtype.Numeric are
// unwrapped through driver.Valuer first.
func Coerce(kind Kind, v any) (any, error) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if v == nil {
		return nil, nil
	}
	if dv, ok := v.(driver.Valuer); ok {
		raw, err := dv.Value()
		if err != nil {
			return nil, fmt.Errorf("read %T: %w", v, err)
		}
		return Coerce(kind, raw)
	}

	switch kind {
	case KindInt:
		return coerceInt(v)
	case KindFloat:
		return coerceFloat(v)
	case KindText:
		return coerceText(v), nil
	case KindDate:
		return coerceDate(v)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

func coerceInt(v any) (any, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case float64:
		return wholeFloat(t)
	case float32:
		return wholeFloat(float64(t))
	case json.Number:
		return parseInt(t.String())
	case string:
		return parseInt(t)
	case []byte:
		return parseInt(string(t))
	default:
		return nil, fmt.Errorf("cannot convert %T to int", v)
	}
}

func parseInt(s string) (any, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// "5.0" is common in exports that went through a float column.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %q to int", s)
	}
	return wholeFloat(f)
}

func wholeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
		return nil, fmt.Errorf("cannot convert %v to int", f)
	}
	return int64(f), nil
}

func coerceFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) {
			return nil, nil
		}
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case json.Number:
		return parseFloat(t.String())
	case string:
		return parseFloat(t)
	case []byte:
		return parseFloat(string(t))
	default:
		return nil, fmt.Errorf("cannot convert %T to float", v)
	}
}

func parseFloat(s string) (any, error) {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return nil, fmt.Errorf("cannot convert %q to float", s)
	}
	if math.IsNaN(f) {
		return nil, nil
	}
	return f, nil
}

func coerceText(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func coerceDate(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return truncateDay(t), nil
	case string:
		return ParseDate(t)
	case []byte:
		return ParseDate(string(t))
	default:
		return nil, fmt.Errorf("cannot convert %T to date", v)
	}
}

// ParseDate parses s with the accepted date layouts and returns UTC midnight
// of the calendar day written in s.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot convert %q to date", s)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
