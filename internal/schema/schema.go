// Package schema declares the fixed, ordered, typed shape of each fact type:
// which staging fields it reads, which dimensions resolve its natural keys,
// and which columns (in target DDL order) it writes.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the declared type of a column or natural key.
type Kind string

const (
	KindInt   Kind = "int"
	KindFloat Kind = "float"
	KindText  Kind = "text"
	KindDate  Kind = "date"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInt, KindFloat, KindText, KindDate:
		return true
	}
	return false
}

// Row is one typed record aligned to a column list. Line is the 1-based
// staging line it came from (0 when unknown).
type Row struct {
	Line int
	V    []any
}

// Column is one target fact column.
type Column struct {
	Name string `json:"name" yaml:"name"`

	// Source is the staging field feeding this column. Defaults to Name.
	// Ignored for columns fed by a dimension.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	Kind     Kind `json:"kind" yaml:"kind"`
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Allowed restricts text values to an enumerated set.
	Allowed []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`

	// Upper trims and upper-cases text before the Allowed check.
	Upper bool `json:"upper,omitempty" yaml:"upper,omitempty"`

	// ZeroIfNull replaces a null numeric value with 0.
	ZeroIfNull bool `json:"zero_if_null,omitempty" yaml:"zero_if_null,omitempty"`
}

// SourceName returns the staging field name for c.
func (c Column) SourceName() string {
	if c.Source != "" {
		return c.Source
	}
	return c.Name
}

// Dimension declares how one natural key in staging maps to a surrogate key.
type Dimension struct {
	Name  string `json:"name" yaml:"name"`
	Table string `json:"table" yaml:"table"`

	// Candidate column names, tried in order against the live table.
	SurrogateCandidates []string `json:"surrogate_candidates" yaml:"surrogate_candidates"`
	NaturalCandidates   []string `json:"natural_candidates" yaml:"natural_candidates"`

	// StagingField holds the natural key in staging rows.
	StagingField string `json:"staging_field" yaml:"staging_field"`

	// LabelField is an optional staging field printed next to unresolved keys.
	LabelField string `json:"label_field,omitempty" yaml:"label_field,omitempty"`

	// KeyKind selects the comparison: text keys are normalized, int and date
	// keys compare by exact value.
	KeyKind Kind `json:"key_kind" yaml:"key_kind"`

	// Target is the fact column receiving the surrogate key.
	Target string `json:"target" yaml:"target"`
}

// FactType is the complete contract of one fact load.
type FactType struct {
	Name       string      `json:"name" yaml:"name"`
	Table      string      `json:"table" yaml:"table"`
	TimeKey    string      `json:"time_key" yaml:"time_key"`
	Dimensions []Dimension `json:"dimensions" yaml:"dimensions"`
	Fact       []Column    `json:"fact" yaml:"fact"`
}

// Field is one staging field a fact type reads.
type Field struct {
	Name     string
	Optional bool
}

// StagingFields returns the staging fields this fact type reads, in a stable
// order: dimension keys first, then direct fact sources, then optional labels.
// Duplicates are collapsed.
func (f FactType) StagingFields() []Field {
	seen := make(map[string]bool)
	var out []Field
	add := func(name string, optional bool) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Field{Name: name, Optional: optional})
	}

	for _, d := range f.Dimensions {
		add(d.StagingField, false)
	}
	fed := f.dimensionTargets()
	for _, c := range f.Fact {
		if _, ok := fed[c.Name]; ok {
			continue
		}
		add(c.SourceName(), false)
	}
	for _, d := range f.Dimensions {
		add(d.LabelField, true)
	}
	return out
}

// FactColumnNames returns the target column names in DDL order.
func (f FactType) FactColumnNames() []string {
	out := make([]string, len(f.Fact))
	for i, c := range f.Fact {
		out[i] = c.Name
	}
	return out
}

// DimensionFor returns the index of the dimension feeding fact column name,
// or -1 when the column is read straight from staging.
func (f FactType) DimensionFor(name string) int {
	for i, d := range f.Dimensions {
		if d.Target == name {
			return i
		}
	}
	return -1
}

func (f FactType) dimensionTargets() map[string]int {
	out := make(map[string]int, len(f.Dimensions))
	for i, d := range f.Dimensions {
		out[d.Target] = i
	}
	return out
}

// Validate checks the fact type is internally consistent. It does not touch
// the warehouse; live column checks happen when the engine compiles a plan.
func (f FactType) Validate() error {
	var problems []string
	addf := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(f.Name) == "" {
		addf("name is empty")
	}
	if strings.TrimSpace(f.Table) == "" {
		addf("table is empty")
	}
	if len(f.Fact) == 0 {
		addf("no fact columns")
	}

	cols := make(map[string]Column, len(f.Fact))
	for _, c := range f.Fact {
		if c.Name == "" {
			addf("fact column with empty name")
			continue
		}
		if _, dup := cols[c.Name]; dup {
			addf("duplicate fact column %q", c.Name)
		}
		cols[c.Name] = c
		if !c.Kind.Valid() {
			addf("fact column %q: unknown kind %q", c.Name, c.Kind)
		}
		if len(c.Allowed) > 0 && c.Kind != KindText {
			addf("fact column %q: allowed values need kind text", c.Name)
		}
	}

	targets := make(map[string]string)
	dimNames := make(map[string]bool)
	for _, d := range f.Dimensions {
		if d.Name == "" {
			addf("dimension with empty name")
		} else if dimNames[d.Name] {
			addf("duplicate dimension %q", d.Name)
		}
		dimNames[d.Name] = true

		if d.Table == "" {
			addf("dimension %q: table is empty", d.Name)
		}
		if len(d.SurrogateCandidates) == 0 {
			addf("dimension %q: no surrogate key candidates", d.Name)
		}
		if len(d.NaturalCandidates) == 0 {
			addf("dimension %q: no natural key candidates", d.Name)
		}
		if d.StagingField == "" {
			addf("dimension %q: staging_field is empty", d.Name)
		}
		if !d.KeyKind.Valid() || d.KeyKind == KindFloat {
			addf("dimension %q: key_kind must be int, text or date", d.Name)
		}
		c, ok := cols[d.Target]
		if !ok {
			addf("dimension %q: target %q is not a fact column", d.Name, d.Target)
		} else if c.Kind != KindInt {
			addf("dimension %q: target %q must be kind int", d.Name, d.Target)
		}
		if prev, dup := targets[d.Target]; dup {
			addf("fact column %q fed by dimensions %q and %q", d.Target, prev, d.Name)
		}
		targets[d.Target] = d.Name
	}

	if f.TimeKey == "" {
		addf("time_key is empty")
	} else if c, ok := cols[f.TimeKey]; !ok {
		addf("time_key %q is not a fact column", f.TimeKey)
	} else if c.Kind != KindInt && c.Kind != KindDate {
		addf("time_key %q must be kind int or date", f.TimeKey)
	}

	if len(problems) > 0 {
		return fmt.Errorf("fact type %q: %s", f.Name, strings.Join(problems, "; "))
	}
	return nil
}
