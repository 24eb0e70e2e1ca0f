package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"factload/internal/storage"
)

const (
	// maxParams is SQL Server's limit on parameters per RPC request.
	maxParams = 2100
	// maxRows is the limit on row value expressions in one VALUES clause.
	maxRows = 1000
)

// Warehouse implements storage.Warehouse for Microsoft SQL Server.
//
// Partitioning maps onto partition functions: a table is range partitioned
// when its clustered index (or heap) lives on a partition scheme. A yearly
// range [From, To) exists when both bounds are boundary values of the
// RANGE RIGHT function; missing bounds are added with SPLIT RANGE.
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The
//     application must register the "sqlserver" driver (see storage/all).
type Warehouse struct {
	db dbConn
}

func init() {
	storage.RegisterWarehouse("mssql", NewWarehouse)
}

// NewWarehouse opens a database/sql handle using the "sqlserver" driver and
// validates connectivity via PingContext.
func NewWarehouse(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// One batch at a time; a small pool is plenty.
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Warehouse{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this warehouse.
func (w *Warehouse) Close() {
	if w == nil || w.db == nil {
		return
	}
	_ = w.db.Close()
}

func (w *Warehouse) MaxParams() int { return maxParams }
func (w *Warehouse) MaxRows() int   { return maxRows }

// Columns lists the table's columns in column_id order.
func (w *Warehouse) Columns(ctx context.Context, table storage.TableRef) ([]string, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT c.name FROM sys.columns c WHERE c.object_id = OBJECT_ID(@p1) ORDER BY c.column_id`,
		objectName(table),
	)
	if err != nil {
		return nil, fmt.Errorf("mssql: columns %s: %w", table, err)
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

// SelectKeyValue returns every (surrogate, natural) pair with a non-null natural key.
func (w *Warehouse) SelectKeyValue(
	ctx context.Context,
	table storage.TableRef,
	surrogateColumn string,
	naturalColumn string,
) ([]storage.KeyValue, error) {
	if table.Name == "" || surrogateColumn == "" || naturalColumn == "" {
		return nil, fmt.Errorf("SelectKeyValue: table, surrogateColumn, naturalColumn required")
	}

	rows, err := w.db.QueryContext(ctx, buildSelectKeyValueSQL(table, surrogateColumn, naturalColumn))
	if err != nil {
		return nil, err
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertBatch inserts rows with one statement inside its own transaction.
func (w *Warehouse) InsertBatch(ctx context.Context, table storage.TableRef, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("InsertBatch: columns is empty")
	}
	if len(rows) > maxRows || len(rows)*len(columns) > maxParams {
		return 0, fmt.Errorf("InsertBatch: %d rows x %d columns exceeds mssql limits (%d rows, %d params)",
			len(rows), len(columns), maxRows, maxParams)
	}

	q, args, err := buildBulkInsertSQL(table, columns, rows)
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

func buildSelectKeyValueSQL(table storage.TableRef, surrogateColumn, naturalColumn string) string {
	return fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s IS NOT NULL",
		mssqlIdent(surrogateColumn),
		mssqlIdent(naturalColumn),
		mssqlTableIdent(table),
		mssqlIdent(naturalColumn),
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table storage.TableRef, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("mssql: row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args, nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted, optionally schema-qualified name.
//
// Example:
//
//	{controladoria fato_dre} -> [controladoria].[fato_dre]
func mssqlTableIdent(t storage.TableRef) string {
	if t.Schema == "" {
		return mssqlIdent(t.Name)
	}
	return mssqlIdent(t.Schema) + "." + mssqlIdent(t.Name)
}

// objectName is the OBJECT_ID argument for t. Unqualified names resolve
// against the caller's default schema.
func objectName(t storage.TableRef) string {
	return mssqlTableIdent(t)
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error   { return s.tx.Commit() }
func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
