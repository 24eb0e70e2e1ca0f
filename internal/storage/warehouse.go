package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Config is the minimal configuration needed to open a warehouse connection.
//
// When to use:
//   - Use Config when constructing a Warehouse via NewWarehouse.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - NewWarehouse returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string
}

// TableRef names a table, optionally schema-qualified.
//
// An empty Schema means "the connection's default schema" (search_path on
// Postgres, dbo on SQL Server, main on SQLite).
type TableRef struct {
	Schema string
	Name   string
}

// ParseTableRef splits "schema.table" into a TableRef. A name without a dot
// is returned unqualified.
func ParseTableRef(s string) TableRef {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return TableRef{Name: s}
	}
	return TableRef{Schema: strings.TrimSpace(parts[0]), Name: strings.TrimSpace(parts[1])}
}

// String returns the dotted form ("schema.table" or "table").
func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Sibling returns a table with the same schema and a different name.
func (t TableRef) Sibling(name string) TableRef {
	return TableRef{Schema: t.Schema, Name: name}
}

// PartitionInfo describes how a table is declared to be partitioned.
// The zero value means the table is not partitioned.
type PartitionInfo struct {
	// Strategy is upper-case: "RANGE", "LIST", "HASH". Empty when unpartitioned.
	Strategy string
	// Columns are the partition key columns in declaration order.
	Columns []string
}

// Partitioned reports whether the table declares any partitioning.
func (p PartitionInfo) Partitioned() bool { return p.Strategy != "" }

// PartitionRange is one half-open time-key range [From, To) and the
// deterministic partition name it is created under. From and To are YYYYMMDD;
// when Date is set the time key is a date column and the bounds stand for
// those calendar days.
type PartitionRange struct {
	Name string
	Year int
	From int64
	To   int64
	Date bool
}

// Bounds returns From and To as values of the time key's type: int64, or a
// "YYYY-MM-DD" string for date keys.
func (r PartitionRange) Bounds() (from, to any) {
	return r.Value(r.From), r.Value(r.To)
}

// Value converts one bound the way Bounds does.
func (r PartitionRange) Value(bound int64) any {
	if r.Date {
		return isoDay(bound)
	}
	return bound
}

// Literal renders one bound for DDL, which takes no bind parameters.
func (r PartitionRange) Literal(bound int64) string {
	if r.Date {
		return "'" + isoDay(bound) + "'"
	}
	return strconv.FormatInt(bound, 10)
}

func isoDay(yyyymmdd int64) string {
	return fmt.Sprintf("%04d-%02d-%02d", yyyymmdd/10000, yyyymmdd/100%100, yyyymmdd%100)
}

// KeyValue is one (surrogate, natural) pair read from a dimension table.
type KeyValue struct {
	Surrogate int64
	Natural   any
}

// Warehouse is the backend-agnostic surface the fact loading engine needs.
//
// IMPORTANT: This interface is intentionally minimal. Each backend implements
// these semantics in its own idiomatic way (native declarative partitions on
// Postgres, partition functions on SQL Server, catalog emulation on SQLite).
type Warehouse interface {
	// Close releases any backend resources. Treat Close as "call once".
	Close()

	// Columns lists the column names of table. A missing table yields an
	// empty slice, not an error.
	Columns(ctx context.Context, table TableRef) ([]string, error)

	// PartitionInfo reports the declared partitioning of table.
	PartitionInfo(ctx context.Context, table TableRef) (PartitionInfo, error)

	// EnsurePartitions creates every range that does not exist yet, all in a
	// single transaction that commits before it returns. Existing partitions
	// are left untouched. It returns the number of partitions created.
	EnsurePartitions(ctx context.Context, table TableRef, ranges []PartitionRange) (int, error)

	// SelectKeyValue reads every (surrogate, natural) pair of a dimension
	// table whose natural column is not null.
	SelectKeyValue(ctx context.Context, table TableRef, surrogateColumn, naturalColumn string) ([]KeyValue, error)

	// InsertBatch inserts rows with one multi-row statement inside its own
	// transaction. On error the transaction is rolled back and nothing from
	// this call is persisted.
	InsertBatch(ctx context.Context, table TableRef, columns []string, rows [][]any) (int64, error)
}

// Limits is implemented by backends that cap how much one statement can bind.
// The engine uses it to reject batch sizes that could never be inserted.
type Limits interface {
	// MaxParams is the maximum number of bind parameters per statement.
	MaxParams() int
	// MaxRows is the maximum number of VALUES tuples per statement (0 = unlimited).
	MaxRows() int
}

// ---- factories ----

// ErrUnsupportedKind is returned by NewWarehouse for an unregistered kind.
var ErrUnsupportedKind = errors.New("unsupported warehouse kind")

type factory func(ctx context.Context, cfg Config) (Warehouse, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// RegisterWarehouse registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call RegisterWarehouse from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func RegisterWarehouse(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: RegisterWarehouse called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterWarehouse called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: warehouse factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// NewWarehouse constructs a Warehouse using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with RegisterWarehouse.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func NewWarehouse(ctx context.Context, cfg Config) (Warehouse, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing warehouse kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w=%s", ErrUnsupportedKind, cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in no particular order.
func Kinds() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
