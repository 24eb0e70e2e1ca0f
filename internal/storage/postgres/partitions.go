package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"factload/internal/storage"
)

// PartitionInfo reads pg_get_partkeydef for table. Unknown or unpartitioned
// tables yield the zero PartitionInfo.
func (w *Warehouse) PartitionInfo(ctx context.Context, table storage.TableRef) (storage.PartitionInfo, error) {
	var def *string
	err := w.pool.QueryRow(ctx, `SELECT pg_get_partkeydef(to_regclass($1))`, pgTable(table)).Scan(&def)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return storage.PartitionInfo{}, fmt.Errorf("PartitionInfo: %s: %w", table, err)
	}
	if def == nil {
		return storage.PartitionInfo{}, nil
	}
	return parsePartKeyDef(*def), nil
}

// parsePartKeyDef turns "RANGE (id_tempo)" into its strategy and columns.
// Expression keys are kept verbatim as a single column entry.
func parsePartKeyDef(def string) storage.PartitionInfo {
	def = strings.TrimSpace(def)
	if def == "" {
		return storage.PartitionInfo{}
	}
	open := strings.IndexByte(def, '(')
	if open < 0 || !strings.HasSuffix(def, ")") {
		return storage.PartitionInfo{Strategy: strings.ToUpper(def)}
	}

	info := storage.PartitionInfo{Strategy: strings.ToUpper(strings.TrimSpace(def[:open]))}
	inner := def[open+1 : len(def)-1]
	if strings.ContainsRune(inner, '(') {
		info.Columns = []string{strings.TrimSpace(inner)}
		return info
	}
	for _, c := range strings.Split(inner, ",") {
		c = strings.TrimSpace(c)
		if len(c) >= 2 && c[0] == '"' && c[len(c)-1] == '"' {
			c = strings.ReplaceAll(c[1:len(c)-1], `""`, `"`)
		}
		if c != "" {
			info.Columns = append(info.Columns, c)
		}
	}
	return info
}

// EnsurePartitions creates the missing yearly partitions of table in one
// transaction. Partitions already attached under the same name are skipped.
func (w *Warehouse) EnsurePartitions(ctx context.Context, table storage.TableRef, ranges []storage.PartitionRange) (int, error) {
	if len(ranges) == 0 {
		return 0, nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("EnsurePartitions: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := attachedPartitions(ctx, tx, table)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, r := range ranges {
		if existing[r.Name] {
			continue
		}
		if _, err := tx.Exec(ctx, buildPartitionSQL(table, r)); err != nil {
			return 0, fmt.Errorf("EnsurePartitions: create %s: %w", r.Name, err)
		}
		created++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("EnsurePartitions: commit: %w", err)
	}
	return created, nil
}

func attachedPartitions(ctx context.Context, tx pgx.Tx, table storage.TableRef) (map[string]bool, error) {
	const q = `
SELECT c.relname
FROM pg_inherits i
JOIN pg_class c ON c.oid = i.inhrelid
WHERE i.inhparent = to_regclass($1)`

	rows, err := tx.Query(ctx, q, pgTable(table))
	if err != nil {
		return nil, fmt.Errorf("EnsurePartitions: list %s: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("EnsurePartitions: scan %s: %w", table, err)
	}

	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// buildPartitionSQL renders the DDL for one yearly partition. Bounds are
// literals because DDL does not accept bind parameters; date keys get quoted
// ISO days that Postgres casts to the column type.
func buildPartitionSQL(parent storage.TableRef, r storage.PartitionRange) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM (%s) TO (%s)",
		pgTable(parent.Sibling(r.Name)),
		pgTable(parent),
		r.Literal(r.From),
		r.Literal(r.To),
	)
}
