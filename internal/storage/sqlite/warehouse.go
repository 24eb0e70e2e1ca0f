package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"factload/internal/storage"
)

// maxParams matches SQLITE_MAX_VARIABLE_NUMBER in the bundled build.
const maxParams = 32766

// Warehouse implements storage.Warehouse for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has a single namespace per database file, so TableRef.Schema is
//     ignored.
//   - Partitioning is emulated: a catalog records which tables are range
//     partitioned and which ranges exist, and a BEFORE INSERT trigger rejects
//     rows outside every registered range (see DeclareRangePartitioned).
//   - Dates are stored as TEXT ("2006-01-02") for reliable round trips.
type Warehouse struct {
	db *sql.DB
}

func init() {
	storage.RegisterWarehouse("sqlite", NewWarehouse)
}

func NewWarehouse(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Warehouse{db: db}, nil
}

// Open wraps an existing handle. Tests use it to share one in-memory database.
func Open(db *sql.DB) *Warehouse { return &Warehouse{db: db} }

func (w *Warehouse) Close() { _ = w.db.Close() }

func (w *Warehouse) MaxParams() int { return maxParams }
func (w *Warehouse) MaxRows() int   { return 0 }

func (w *Warehouse) Columns(ctx context.Context, table storage.TableRef) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table.Name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns %s: %w", table.Name, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (w *Warehouse) SelectKeyValue(ctx context.Context, table storage.TableRef, surrogateColumn, naturalColumn string) ([]storage.KeyValue, error) {
	q := fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s IS NOT NULL`,
		sqlIdent(surrogateColumn), sqlIdent(naturalColumn), sqlIdent(table.Name), sqlIdent(naturalColumn),
	)
	rows, err := w.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select %s: %w", table.Name, err)
	}
	defer rows.Close()

	var out []storage.KeyValue
	for rows.Next() {
		var id sql.NullInt64
		var k any
		if err := rows.Scan(&id, &k); err != nil {
			return nil, err
		}
		if !id.Valid {
			continue
		}
		out = append(out, storage.KeyValue{Surrogate: id.Int64, Natural: k})
	}
	return out, rows.Err()
}

// InsertBatch performs a multi-row insert inside its own transaction.
func (w *Warehouse) InsertBatch(ctx context.Context, table storage.TableRef, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if n := len(rows) * len(columns); n > maxParams {
		return 0, fmt.Errorf("sqlite: %d params exceeds limit %d", n, maxParams)
	}

	q, args, err := buildInsertSQL(table.Name, columns, rows)
	if err != nil {
		return 0, err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("sqlite: insert into %s: no columns", table)
	}

	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("sqlite: row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}
	return b.String(), args, nil
}

// bindValue stores dates as TEXT. Midnight values keep only the date part.
func bindValue(v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339Nano)
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
