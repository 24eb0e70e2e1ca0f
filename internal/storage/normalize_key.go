package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts a non-text dimension key value to a canonical string
// form, suitable for in-memory index keys (e.g. "8429529" or "2025-01-31").
//
// Backends return different Go types for the same SQL type (pgx scans int4
// into int32, SQLite may hand back int64 or float64, dates arrive as
// time.Time or text). This helper keeps lookups consistent across them.
//
// Textual natural keys are not handled here; they go through keynorm.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case time.Time:
		return t.Format(time.DateOnly)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// normalizeFloat renders whole floats as integers so 7.0 and int64(7) agree.
func normalizeFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
