package loader

import (
	"fmt"
	"strings"

	"factload/internal/schema"
)

// maxIssues bounds how many individual problems a ValidationError keeps.
const maxIssues = 20

// Issue is one problem found while validating a row.
type Issue struct {
	// Line is the staging line of the offending row (0 when unknown).
	Line   int
	Column string
	Value  any
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d column %s value=%v: %s", i.Line, i.Column, i.Value, i.Reason)
}

// ValidationError aborts a load before any row is written. Issues holds a
// sample; Total counts every problem found.
type ValidationError struct {
	Table  string
	Total  int
	Issues []Issue
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed for %s: %d issue(s)", e.Table, e.Total)
	for i, is := range e.Issues {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(is.String())
	}
	if e.Total > len(e.Issues) {
		fmt.Fprintf(&b, "; ... %d more", e.Total-len(e.Issues))
	}
	return b.String()
}

// Validate checks and types every row against cols. It returns the typed
// values (int64, float64, string, time.Time or nil) only if all rows pass.
//
// Rules per column:
//   - the row must carry a value slot for every column
//   - Upper trims and upper-cases text first
//   - ZeroIfNull turns a null numeric value into 0
//   - values must convert to the column kind
//   - Required columns must be non-null
//   - Allowed restricts text to an enumerated set
func Validate(table string, cols []schema.Column, rows []schema.Row) ([][]any, error) {
	out := make([][]any, len(rows))
	verr := &ValidationError{Table: table}
	add := func(is Issue) {
		verr.Total++
		if len(verr.Issues) < maxIssues {
			verr.Issues = append(verr.Issues, is)
		}
	}

	allowed := make([]map[string]bool, len(cols))
	for i, c := range cols {
		if len(c.Allowed) == 0 {
			continue
		}
		allowed[i] = make(map[string]bool, len(c.Allowed))
		for _, a := range c.Allowed {
			allowed[i][a] = true
		}
	}

	for ri, r := range rows {
		if len(r.V) != len(cols) {
			add(Issue{Line: r.Line, Column: "*", Reason: fmt.Sprintf("row has %d values, want %d", len(r.V), len(cols))})
			continue
		}

		typed := make([]any, len(cols))
		for ci, c := range cols {
			raw := r.V[ci]
			if c.Upper {
				if s, ok := raw.(string); ok {
					raw = strings.ToUpper(strings.TrimSpace(s))
				}
			}

			v, err := schema.Coerce(c.Kind, raw)
			if err != nil {
				add(Issue{Line: r.Line, Column: c.Name, Value: raw, Reason: err.Error()})
				continue
			}
			if v == nil && c.ZeroIfNull {
				switch c.Kind {
				case schema.KindInt:
					v = int64(0)
				case schema.KindFloat:
					v = float64(0)
				}
			}
			if v == nil {
				if c.Required {
					add(Issue{Line: r.Line, Column: c.Name, Reason: "required value is null"})
				}
				continue
			}
			if allowed[ci] != nil {
				s, _ := v.(string)
				if !allowed[ci][s] {
					add(Issue{Line: r.Line, Column: c.Name, Value: v, Reason: fmt.Sprintf("not in allowed set %v", c.Allowed)})
					continue
				}
			}
			typed[ci] = v
		}
		out[ri] = typed
	}

	if verr.Total > 0 {
		return nil, verr
	}
	return out, nil
}
