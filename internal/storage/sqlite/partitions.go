package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"factload/internal/storage"
)

var catalogDDL = []string{
	`CREATE TABLE IF NOT EXISTS etl_partitioned_tables (
	table_name  TEXT PRIMARY KEY,
	strategy    TEXT NOT NULL,
	column_name TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS etl_partitions (
	table_name     TEXT NOT NULL,
	partition_name TEXT NOT NULL,
	range_from     NOT NULL,
	range_to       NOT NULL,
	PRIMARY KEY (table_name, partition_name)
)`,
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createCatalog(ctx context.Context, db execer) error {
	for _, q := range catalogDDL {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: create partition catalog: %w", err)
		}
	}
	return nil
}

// DeclareRangePartitioned marks table as RANGE partitioned on column and
// installs a trigger that aborts inserts whose column value falls outside
// every registered partition, mirroring Postgres' "no partition found" error.
func DeclareRangePartitioned(ctx context.Context, db *sql.DB, table, column string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := createCatalog(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO etl_partitioned_tables (table_name, strategy, column_name) VALUES (?, 'RANGE', ?)`,
		table, column,
	); err != nil {
		return fmt.Errorf("sqlite: declare %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, buildGuardTriggerSQL(table, column)); err != nil {
		return fmt.Errorf("sqlite: partition trigger %s: %w", table, err)
	}
	return tx.Commit()
}

func buildGuardTriggerSQL(table, column string) string {
	msg := fmt.Sprintf("no partition of relation %s found for row", table)
	return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s BEFORE INSERT ON %s
WHEN NOT EXISTS (
	SELECT 1 FROM etl_partitions p
	WHERE p.table_name = %s AND NEW.%s >= p.range_from AND NEW.%s < p.range_to
)
BEGIN
	SELECT RAISE(ABORT, %s);
END`,
		sqlIdent(table+"_partition_guard"),
		sqlIdent(table),
		sqlString(table),
		sqlIdent(column),
		sqlIdent(column),
		sqlString(msg),
	)
}

func (w *Warehouse) PartitionInfo(ctx context.Context, table storage.TableRef) (storage.PartitionInfo, error) {
	ok, err := w.hasCatalog(ctx)
	if err != nil || !ok {
		return storage.PartitionInfo{}, err
	}

	var strategy, column string
	err = w.db.QueryRowContext(ctx,
		`SELECT strategy, column_name FROM etl_partitioned_tables WHERE table_name = ?`, table.Name,
	).Scan(&strategy, &column)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.PartitionInfo{}, nil
	}
	if err != nil {
		return storage.PartitionInfo{}, fmt.Errorf("sqlite: partition info %s: %w", table.Name, err)
	}
	return storage.PartitionInfo{Strategy: strings.ToUpper(strategy), Columns: []string{column}}, nil
}

// EnsurePartitions registers missing ranges in one transaction. Date bounds
// are stored as "YYYY-MM-DD" text, the same form bindValue gives date keys, so
// the guard trigger compares like with like.
func (w *Warehouse) EnsurePartitions(ctx context.Context, table storage.TableRef, ranges []storage.PartitionRange) (int, error) {
	if len(ranges) == 0 {
		return 0, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := createCatalog(ctx, tx); err != nil {
		return 0, err
	}

	created := 0
	for _, r := range ranges {
		from, to := r.Bounds()
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO etl_partitions (table_name, partition_name, range_from, range_to) VALUES (?, ?, ?, ?)`,
			table.Name, r.Name, from, to,
		)
		if err != nil {
			return 0, fmt.Errorf("sqlite: create partition %s: %w", r.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

func (w *Warehouse) hasCatalog(ctx context.Context) (bool, error) {
	var n int
	err := w.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'etl_partitioned_tables'`,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: read schema: %w", err)
	}
	return n > 0, nil
}
