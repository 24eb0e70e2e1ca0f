// Package partition derives yearly time-key ranges for a fact table and makes
// sure the matching partitions exist before any row is inserted.
package partition

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"factload/internal/storage"
)

// Logger is the minimal logging interface used here. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Warehouse is the slice of storage.Warehouse the manager needs.
type Warehouse interface {
	PartitionInfo(ctx context.Context, table storage.TableRef) (storage.PartitionInfo, error)
	EnsurePartitions(ctx context.Context, table storage.TableRef, ranges []storage.PartitionRange) (int, error)
}

// LayoutError means the target table is not range-partitioned on the time
// key. It is not retryable: the table DDL has to change first.
type LayoutError struct {
	Table   storage.TableRef
	TimeKey string
	Info    storage.PartitionInfo
}

func (e *LayoutError) Error() string {
	if !e.Info.Partitioned() {
		return fmt.Sprintf("table %s is not partitioned; expected RANGE (%s)", e.Table, e.TimeKey)
	}
	return fmt.Sprintf("table %s is partitioned by %s (%s); expected RANGE (%s)",
		e.Table, e.Info.Strategy, strings.Join(e.Info.Columns, ", "), e.TimeKey)
}

// YearOf returns the calendar year of a time key: the leading four digits of
// an integer key encoded as YYYYMMDD, or the year of a date.
func YearOf(v any) (int, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Year(), nil
	case int64:
		return yearOfInt(t)
	case int:
		return yearOfInt(int64(t))
	case int32:
		return yearOfInt(int64(t))
	case nil:
		return 0, fmt.Errorf("null time key")
	default:
		return 0, fmt.Errorf("unsupported time key type %T", v)
	}
}

func yearOfInt(n int64) (int, error) {
	s := strconv.FormatInt(n, 10)
	if n <= 0 || len(s) != 8 {
		return 0, fmt.Errorf("time key %d is not YYYYMMDD", n)
	}
	y, _ := strconv.Atoi(s[:4])
	return y, nil
}

// Name returns the deterministic partition name "<table>_<year>".
func Name(table string, year int) string {
	return fmt.Sprintf("%s_%d", table, year)
}

// RangeFor returns the half-open range [year*10000+0101, (year+1)*10000+0101)
// for table. Key 20251231 falls in 2025's range; 20260101 in 2026's.
func RangeFor(table string, year int) storage.PartitionRange {
	return storage.PartitionRange{
		Name: Name(table, year),
		Year: year,
		From: int64(year)*10000 + 101,
		To:   int64(year+1)*10000 + 101,
	}
}

// DateRangeFor is RangeFor for a date time key: [year-01-01, (year+1)-01-01).
func DateRangeFor(table string, year int) storage.PartitionRange {
	r := RangeFor(table, year)
	r.Date = true
	return r
}

// Years returns the distinct years present in keys, ascending.
func Years(keys []any) ([]int, error) {
	years, _, err := scanKeys(keys)
	return years, err
}

// scanKeys returns the distinct years of keys and whether they are dates.
// Integer and date keys cannot be mixed in one load.
func scanKeys(keys []any) ([]int, bool, error) {
	seen := make(map[int]struct{})
	dates, ints := 0, 0
	for _, k := range keys {
		y, err := YearOf(k)
		if err != nil {
			return nil, false, err
		}
		if _, ok := k.(time.Time); ok {
			dates++
		} else {
			ints++
		}
		seen[y] = struct{}{}
	}
	if dates > 0 && ints > 0 {
		return nil, false, fmt.Errorf("time keys mix %d date and %d integer values", dates, ints)
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out, dates > 0, nil
}

// Manager checks the partition layout of fact tables and creates missing
// yearly partitions.
type Manager struct {
	Warehouse Warehouse
	Logger    Logger
}

// Outcome is what EnsurePartitions did.
type Outcome struct {
	Years   []int
	Created int
}

// Check verifies that table is declared RANGE-partitioned on timeKey alone.
//
// Errors:
//   - *LayoutError when the table is unpartitioned, uses another strategy, or
//     is keyed on other columns.
//   - Wrapped catalog errors.
func (m *Manager) Check(ctx context.Context, table storage.TableRef, timeKey string) error {
	info, err := m.Warehouse.PartitionInfo(ctx, table)
	if err != nil {
		return fmt.Errorf("partition: inspect %s: %w", table, err)
	}
	if !strings.EqualFold(info.Strategy, "RANGE") ||
		len(info.Columns) != 1 ||
		!strings.EqualFold(info.Columns[0], timeKey) {
		return &LayoutError{Table: table, TimeKey: timeKey, Info: info}
	}
	return nil
}

// EnsurePartitions creates, in one transaction, every yearly partition the
// time keys need and that does not exist yet. Calling it again with the same
// years creates nothing and returns no error.
//
// Date keys (time.Time) get date bounds; integer keys get YYYYMMDD bounds.
//
// Edge cases:
//   - An empty key set is a no-op and skips the layout check.
func (m *Manager) EnsurePartitions(ctx context.Context, table storage.TableRef, timeKey string, keys []any) (Outcome, error) {
	logf := m.logger()

	years, dates, err := scanKeys(keys)
	if err != nil {
		return Outcome{}, fmt.Errorf("partition: %w", err)
	}
	if len(years) == 0 {
		return Outcome{}, nil
	}

	if err := m.Check(ctx, table, timeKey); err != nil {
		return Outcome{}, err
	}

	ranges := make([]storage.PartitionRange, len(years))
	for i, y := range years {
		if dates {
			ranges[i] = DateRangeFor(table.Name, y)
		} else {
			ranges[i] = RangeFor(table.Name, y)
		}
	}

	created, err := m.Warehouse.EnsurePartitions(ctx, table, ranges)
	if err != nil {
		return Outcome{}, fmt.Errorf("partition: ensure %s years=%v: %w", table, years, err)
	}
	logf("stage=partitions table=%s years=%v created=%d", table, years, created)
	return Outcome{Years: years, Created: created}, nil
}

func (m *Manager) logger() func(format string, v ...any) {
	if m.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return m.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
