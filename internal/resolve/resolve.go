package resolve

import (
	"fmt"
	"sort"

	"factload/internal/schema"
)

// DefaultReportLimit caps how many distinct unresolved keys are kept per dimension.
const DefaultReportLimit = 50

// NullKey is how a missing natural key is shown to operators.
const NullKey = "<null>"

// KeyCount is one unresolved natural key value and how many rows carried it.
// Null marks rows whose key was missing; Value is then empty, so a staging
// value spelled "NULL" stays a separate group.
type KeyCount struct {
	Value string
	Null  bool
	Label string
	Count int
}

// Display returns the key as printed in reports.
func (k KeyCount) Display() string {
	if k.Null {
		return NullKey
	}
	return k.Value
}

type groupKey struct {
	value string
	null  bool
}

// DimensionGaps summarizes the unresolved keys of one dimension.
type DimensionGaps struct {
	Dimension    string
	StagingField string

	// Rows is the number of staging rows this dimension failed to resolve.
	Rows int
	// Distinct is the number of distinct raw key values among those rows.
	Distinct int
	// Keys holds the top values by count (descending), capped at the report limit.
	Keys []KeyCount
}

// Truncated reports whether some distinct keys were dropped from Keys.
func (g DimensionGaps) Truncated() bool { return g.Distinct > len(g.Keys) }

// Report is the run-scoped unresolved-key summary. Dimensions with no gaps
// are omitted.
type Report struct {
	Total      int
	Resolved   int
	Dimensions []DimensionGaps
}

// Excluded is the number of staging rows left out of the resolved set.
func (r Report) Excluded() int { return r.Total - r.Resolved }

// Result is the output of Resolve.
type Result struct {
	// Rows are aligned to FactType.Fact: dimension targets hold int64
	// surrogate keys, every other column holds its raw staging value.
	Rows   []schema.Row
	Report Report
}

// Resolve maps each staging row to a fact row.
//
// rows must be aligned to fields (as returned by staging.Read for
// ft.StagingFields()), and indexes must be aligned to ft.Dimensions.
//
// A row is admitted only if every dimension resolves. Every dimension that
// fails for a row counts that row once, grouped by the raw staging value.
//
// Errors:
//   - Only for inconsistent inputs (misaligned indexes or missing fields).
func Resolve(ft schema.FactType, fields []schema.Field, rows []schema.Row, indexes []*Index, limit int) (Result, error) {
	if len(indexes) != len(ft.Dimensions) {
		return Result{}, fmt.Errorf("resolve: %d indexes for %d dimensions", len(indexes), len(ft.Dimensions))
	}
	if limit <= 0 {
		limit = DefaultReportLimit
	}

	pos := make(map[string]int, len(fields))
	for i, f := range fields {
		pos[f.Name] = i
	}
	fieldIx := func(name string) (int, error) {
		if name == "" {
			return -1, nil
		}
		i, ok := pos[name]
		if !ok {
			return -1, fmt.Errorf("resolve: staging field %q not read", name)
		}
		return i, nil
	}

	type dimPlan struct {
		key, label int
		groups     map[groupKey]*KeyCount
		rows       int
	}
	dims := make([]dimPlan, len(ft.Dimensions))
	for i, d := range ft.Dimensions {
		k, err := fieldIx(d.StagingField)
		if err != nil {
			return Result{}, err
		}
		l, err := fieldIx(d.LabelField)
		if err != nil {
			return Result{}, err
		}
		dims[i] = dimPlan{key: k, label: l, groups: make(map[groupKey]*KeyCount)}
	}

	type colSource struct {
		dim   int
		field int
	}
	sources := make([]colSource, len(ft.Fact))
	for i, c := range ft.Fact {
		if d := ft.DimensionFor(c.Name); d >= 0 {
			sources[i] = colSource{dim: d, field: -1}
			continue
		}
		f, err := fieldIx(c.SourceName())
		if err != nil {
			return Result{}, err
		}
		sources[i] = colSource{dim: -1, field: f}
	}

	out := Result{Report: Report{Total: len(rows)}}
	surrogates := make([]int64, len(ft.Dimensions))

	for _, r := range rows {
		ok := true
		for i := range dims {
			raw := r.V[dims[i].key]
			id, found := indexes[i].Lookup(raw)
			if found {
				surrogates[i] = id
				continue
			}
			ok = false
			dims[i].rows++
			k := rawKey(raw)
			g := dims[i].groups[k]
			if g == nil {
				g = &KeyCount{Value: k.value, Null: k.null}
				dims[i].groups[k] = g
			}
			g.Count++
			if g.Label == "" && dims[i].label >= 0 {
				if lv := r.V[dims[i].label]; lv != nil {
					g.Label = fmt.Sprint(lv)
				}
			}
		}
		if !ok {
			continue
		}

		fr := schema.Row{Line: r.Line, V: make([]any, len(ft.Fact))}
		for i, s := range sources {
			if s.dim >= 0 {
				fr.V[i] = surrogates[s.dim]
			} else {
				fr.V[i] = r.V[s.field]
			}
		}
		out.Rows = append(out.Rows, fr)
	}
	out.Report.Resolved = len(out.Rows)

	for i, d := range ft.Dimensions {
		if dims[i].rows == 0 {
			continue
		}
		out.Report.Dimensions = append(out.Report.Dimensions, DimensionGaps{
			Dimension:    d.Name,
			StagingField: d.StagingField,
			Rows:         dims[i].rows,
			Distinct:     len(dims[i].groups),
			Keys:         topKeys(dims[i].groups, limit),
		})
	}
	return out, nil
}

// rawKey renders the staging value as written, without normalization.
func rawKey(v any) groupKey {
	if v == nil {
		return groupKey{null: true}
	}
	return groupKey{value: fmt.Sprint(v)}
}

func topKeys(groups map[groupKey]*KeyCount, limit int) []KeyCount {
	out := make([]KeyCount, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Null != out[j].Null {
			return out[i].Null
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
