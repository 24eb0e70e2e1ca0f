package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"factload/internal/storage"
)

// partitionLayoutSQL finds the partition scheme, function and column of a
// table's heap or clustered index.
const partitionLayoutSQL = `
SELECT ps.name, pf.name, c.name
FROM sys.indexes i
JOIN sys.partition_schemes ps ON ps.data_space_id = i.data_space_id
JOIN sys.partition_functions pf ON pf.function_id = ps.function_id
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id AND ic.partition_ordinal = 1
JOIN sys.columns c ON c.object_id = i.object_id AND c.column_id = ic.column_id
WHERE i.object_id = OBJECT_ID(@p1) AND i.index_id IN (0, 1)`

const boundaryExistsSQL = `
SELECT COUNT(*)
FROM sys.partition_range_values rv
JOIN sys.partition_functions pf ON pf.function_id = rv.function_id
WHERE pf.name = @p1 AND CAST(rv.value AS bigint) = @p2`

// dateBoundaryExistsSQL is boundaryExistsSQL for date and datetime functions.
const dateBoundaryExistsSQL = `
SELECT COUNT(*)
FROM sys.partition_range_values rv
JOIN sys.partition_functions pf ON pf.function_id = rv.function_id
WHERE pf.name = @p1 AND CAST(rv.value AS date) = CAST(@p2 AS date)`

type layout struct {
	scheme   string
	function string
	column   string
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
}

func readLayout(ctx context.Context, q rowQuerier, table storage.TableRef) (layout, bool, error) {
	var l layout
	err := q.QueryRowContext(ctx, partitionLayoutSQL, objectName(table)).Scan(&l.scheme, &l.function, &l.column)
	if errors.Is(err, sql.ErrNoRows) {
		return layout{}, false, nil
	}
	if err != nil {
		return layout{}, false, fmt.Errorf("mssql: partition layout %s: %w", table, err)
	}
	return l, true, nil
}

// PartitionInfo reports RANGE on the partitioning column, or the zero value
// for tables stored outside a partition scheme.
func (w *Warehouse) PartitionInfo(ctx context.Context, table storage.TableRef) (storage.PartitionInfo, error) {
	l, ok, err := readLayout(ctx, w.db, table)
	if err != nil || !ok {
		return storage.PartitionInfo{}, err
	}
	return storage.PartitionInfo{Strategy: "RANGE", Columns: []string{l.column}}, nil
}

// EnsurePartitions splits the table's partition function so every range has
// both bounds as boundary values. A range counts as created when at least
// one of its bounds was added. SQL Server numbers partitions, so range names
// are not stored.
func (w *Warehouse) EnsurePartitions(ctx context.Context, table storage.TableRef, ranges []storage.PartitionRange) (int, error) {
	if len(ranges) == 0 {
		return 0, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	l, ok, err := readLayout(ctx, tx, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("mssql: %s is not on a partition scheme", table)
	}

	sorted := append([]storage.PartitionRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	added := map[int64]bool{}
	created := 0
	for _, r := range sorted {
		split := false
		for _, bound := range []int64{r.From, r.To} {
			if added[bound] {
				continue
			}
			query := boundaryExistsSQL
			if r.Date {
				query = dateBoundaryExistsSQL
			}
			var n int
			if err := tx.QueryRowContext(ctx, query, l.function, r.Value(bound)).Scan(&n); err != nil {
				return 0, fmt.Errorf("mssql: boundary %s: %w", r.Literal(bound), err)
			}
			added[bound] = true
			if n > 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, buildSplitSQL(l, r.Literal(bound))); err != nil {
				return 0, fmt.Errorf("mssql: split %s at %s: %w", l.function, r.Literal(bound), err)
			}
			split = true
		}
		if split {
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

// buildSplitSQL renders the DDL adding one boundary. New partitions land on
// PRIMARY; boundary values are literals because DDL takes no parameters.
func buildSplitSQL(l layout, bound string) string {
	return fmt.Sprintf(
		"ALTER PARTITION SCHEME %s NEXT USED [PRIMARY]; ALTER PARTITION FUNCTION %s() SPLIT RANGE (%s);",
		mssqlIdent(l.scheme),
		mssqlIdent(l.function),
		bound,
	)
}
