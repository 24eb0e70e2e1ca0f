package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"factload/internal/storage"
)

// maxParams is the protocol limit on bind parameters in one statement.
const maxParams = 65535

/*
Warehouse implements storage.Warehouse for Postgres.

It provides:
  - Catalog lookups (columns, declared partitioning)
  - Yearly range partitions created with CREATE TABLE ... PARTITION OF
  - Dimension key snapshots
  - Multi-row fact inserts, one transaction per call
*/
type Warehouse struct {
	pool *pgxpool.Pool
}

// NewWarehouse creates a new Postgres-backed Warehouse.
func NewWarehouse(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Warehouse{pool: pool}, nil
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

func (w *Warehouse) MaxParams() int { return maxParams }
func (w *Warehouse) MaxRows() int   { return 0 }

// Columns lists table's columns in ordinal order. An empty schema resolves
// to current_schema().
func (w *Warehouse) Columns(ctx context.Context, table storage.TableRef) ([]string, error) {
	const q = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
  AND table_name = $2
ORDER BY ordinal_position`

	rows, err := w.pool.Query(ctx, q, table.Schema, table.Name)
	if err != nil {
		return nil, fmt.Errorf("Columns: query %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("Columns: scan %s: %w", table, err)
	}
	return cols, nil
}

// SelectKeyValue reads (surrogate, natural) for every row whose natural key
// is not null.
func (w *Warehouse) SelectKeyValue(
	ctx context.Context,
	table storage.TableRef,
	surrogateColumn string,
	naturalColumn string,
) ([]storage.KeyValue, error) {
	if table.Name == "" || surrogateColumn == "" || naturalColumn == "" {
		return nil, fmt.Errorf("SelectKeyValue: table, surrogateColumn, naturalColumn are required")
	}

	q := fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s IS NOT NULL`,
		pgIdent(surrogateColumn),
		pgIdent(naturalColumn),
		pgTable(table),
		pgIdent(naturalColumn),
	)

	rows, err := w.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("SelectKeyValue: query %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.KeyValue
	for rows.Next() {
		var id *int64
		var nk any
		if err := rows.Scan(&id, &nk); err != nil {
			return nil, fmt.Errorf("SelectKeyValue: scan %s: %w", table, err)
		}
		if id == nil {
			continue
		}
		nk, err := plainValue(nk)
		if err != nil {
			return nil, fmt.Errorf("SelectKeyValue: %s.%s: %w", table, naturalColumn, err)
		}
		out = append(out, storage.KeyValue{Surrogate: *id, Natural: nk})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectKeyValue: rows %s: %w", table, err)
	}
	return out, nil
}

// plainValue unwraps pgtype values such as pgtype.Numeric (NUMERIC and
// DECIMAL columns) into driver values: int64, float64, string, time.Time.
func plainValue(v any) (any, error) {
	dv, ok := v.(driver.Valuer)
	if !ok {
		return v, nil
	}
	return dv.Value()
}

// InsertBatch inserts rows with a single INSERT inside its own transaction.
func (w *Warehouse) InsertBatch(
	ctx context.Context,
	table storage.TableRef,
	columns []string,
	rows [][]any,
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("InsertBatch: no columns for %s", table)
	}
	if n := len(rows) * len(columns); n > maxParams {
		return 0, fmt.Errorf("InsertBatch: %d params exceeds limit %d", n, maxParams)
	}

	sql, args, err := buildInsertSQL(pgTable(table), columns, rows)
	if err != nil {
		return 0, err
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("InsertBatch: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cmd, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, describe(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("InsertBatch: commit: %w", err)
	}
	return cmd.RowsAffected(), nil
}

// describe prefixes server errors with their SQLSTATE and table.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("SQLSTATE %s on %s: %w", pgErr.Code, pgErr.TableName, err)
	}
	return err
}

// buildInsertSQL constructs a single INSERT statement and its args for Postgres.
//
// It is pure and deterministic so placeholder numbering can be tested
// without a database. Every row must have exactly len(columns) values.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("buildInsertSQL: row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

// pgIdent quotes an identifier. Unquoted lower-case names are passed through
// so generated SQL stays readable.
func pgIdent(name string) string {
	if isPlainIdent(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return !reservedWords[s]
}

// reservedWords lists the keywords most likely to collide with column names.
var reservedWords = map[string]bool{
	"all": true, "and": true, "as": true, "case": true, "check": true, "column": true,
	"default": true, "desc": true, "from": true, "group": true, "order": true,
	"select": true, "table": true, "to": true, "user": true, "where": true,
}

func pgTable(t storage.TableRef) string {
	if t.Schema == "" {
		return pgIdent(t.Name)
	}
	return pgIdent(t.Schema) + "." + pgIdent(t.Name)
}
