package engine

import (
	"context"
	"fmt"
	"strings"

	"factload/internal/schema"
	"factload/internal/storage"
)

// dimPlan is a dimension bound to the live warehouse.
type dimPlan struct {
	dim       schema.Dimension
	table     storage.TableRef
	surrogate string
	natural   string
}

// plan is a fact type checked against the live warehouse.
type plan struct {
	fact      schema.FactType
	table     storage.TableRef
	dims      []dimPlan
	batchSize int
}

// compile validates ft and binds it to the warehouse catalog.
//
// Errors (all *ConfigError):
//   - ft is internally inconsistent
//   - the fact table is missing or lacks a fact column
//   - a dimension table has none of its candidate column names
//   - batchSize cannot be bound in one statement by this backend
func compile(ctx context.Context, w storage.Warehouse, ft schema.FactType, schemaName string, batchSize int) (*plan, error) {
	if err := ft.Validate(); err != nil {
		return nil, &ConfigError{Op: "fact type", Err: err}
	}

	p := &plan{
		fact:      ft,
		table:     storage.TableRef{Schema: schemaName, Name: ft.Table},
		batchSize: batchSize,
	}

	cols, err := w.Columns(ctx, p.table)
	if err != nil {
		return nil, fmt.Errorf("engine: columns of %s: %w", p.table, err)
	}
	if len(cols) == 0 {
		return nil, configErrorf("fact table", "table %s not found", p.table)
	}
	var missing []string
	for _, c := range ft.Fact {
		if _, ok := pickColumn(cols, []string{c.Name}); !ok {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return nil, configErrorf("fact table", "%s lacks columns %v (has %v)", p.table, missing, cols)
	}

	for _, d := range ft.Dimensions {
		dp, err := compileDimension(ctx, w, d, schemaName)
		if err != nil {
			return nil, err
		}
		p.dims = append(p.dims, dp)
	}

	if err := checkLimits(w, p.batchSize, len(ft.Fact)); err != nil {
		return nil, err
	}
	return p, nil
}

func compileDimension(ctx context.Context, w storage.Warehouse, d schema.Dimension, schemaName string) (dimPlan, error) {
	table := storage.ParseTableRef(d.Table)
	if table.Schema == "" {
		table.Schema = schemaName
	}

	cols, err := w.Columns(ctx, table)
	if err != nil {
		return dimPlan{}, fmt.Errorf("engine: columns of %s: %w", table, err)
	}
	if len(cols) == 0 {
		return dimPlan{}, configErrorf("dimension "+d.Name, "table %s not found", table)
	}

	sk, ok := pickColumn(cols, d.SurrogateCandidates)
	if !ok {
		return dimPlan{}, configErrorf("dimension "+d.Name, "no surrogate key column among %v in %s (has %v)", d.SurrogateCandidates, table, cols)
	}
	nk, ok := pickColumn(cols, d.NaturalCandidates)
	if !ok {
		return dimPlan{}, configErrorf("dimension "+d.Name, "no natural key column among %v in %s (has %v)", d.NaturalCandidates, table, cols)
	}
	return dimPlan{dim: d, table: table, surrogate: sk, natural: nk}, nil
}

// pickColumn returns the first candidate present in cols, preferring an exact
// match and falling back to a case-insensitive one. The returned name is
// spelled the way the catalog spells it.
func pickColumn(cols, candidates []string) (string, bool) {
	for _, c := range candidates {
		for _, have := range cols {
			if have == c {
				return have, true
			}
		}
		for _, have := range cols {
			if strings.EqualFold(have, c) {
				return have, true
			}
		}
	}
	return "", false
}

func checkLimits(w storage.Warehouse, batchSize, width int) error {
	lim, ok := w.(storage.Limits)
	if !ok {
		return nil
	}
	if n := batchSize * width; lim.MaxParams() > 0 && n > lim.MaxParams() {
		return configErrorf("batch size", "%d rows x %d columns = %d params exceeds backend limit %d", batchSize, width, n, lim.MaxParams())
	}
	if lim.MaxRows() > 0 && batchSize > lim.MaxRows() {
		return configErrorf("batch size", "%d rows exceeds backend limit %d per statement", batchSize, lim.MaxRows())
	}
	return nil
}

// defaultBatchSize is loader.DefaultBatchSize shrunk to what the backend can
// bind in one statement.
func defaultBatchSize(w storage.Warehouse, width int, size int) int {
	lim, ok := w.(storage.Limits)
	if !ok || width <= 0 {
		return size
	}
	if lim.MaxParams() > 0 && size*width > lim.MaxParams() {
		size = lim.MaxParams() / width
	}
	if lim.MaxRows() > 0 && size > lim.MaxRows() {
		size = lim.MaxRows()
	}
	if size < 1 {
		size = 1
	}
	return size
}
