// Package resolve joins staging natural keys against dimension snapshots and
// replaces them with warehouse surrogate keys.
package resolve

import (
	"fmt"
	"sort"

	"factload/internal/keynorm"
	"factload/internal/schema"
	"factload/internal/storage"
)

// CardinalityError means one natural key maps to more than one dimension row.
// The join contract is many-to-one, so this is a configuration error: picking
// one of the rows would silently attach facts to an arbitrary member.
type CardinalityError struct {
	Dimension  string
	Table      string
	Key        string
	Surrogates []int64
	// Duplicates is the total number of natural keys with more than one row.
	Duplicates int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("dimension %s (%s): natural key %q matches %d rows (surrogates %v); %d duplicated key(s) in total",
		e.Dimension, e.Table, e.Key, len(e.Surrogates), e.Surrogates, e.Duplicates)
}

// Index is the run-scoped natural key -> surrogate key map of one dimension.
// It is read-only after BuildIndex returns.
type Index struct {
	dim     schema.Dimension
	keys    map[string]int64
	skipped int
}

// CanonicalKey returns the comparison form of a natural key value for kind.
// Text keys go through keynorm; int and date keys are coerced to their type
// and formatted with storage.NormalizeKey. ok is false for nulls and for
// values that cannot be read as kind.
func CanonicalKey(kind schema.Kind, v any) (key string, ok bool) {
	if kind == schema.KindText {
		k := keynorm.NormalizeAny(v)
		return k, k != ""
	}
	c, err := schema.Coerce(kind, v)
	if err != nil || c == nil {
		return "", false
	}
	return storage.NormalizeKey(c), true
}

// BuildIndex builds the key index for dim from a snapshot and checks the
// declared many-to-one multiplicity.
//
// Edge cases:
//   - Snapshot rows whose natural key is null or unreadable as dim.KeyKind are
//     skipped (they can never match) and counted in Skipped.
//
// Errors:
//   - *CardinalityError if any canonical natural key occurs more than once. The
//     error names the smallest offending key so the message is stable.
func BuildIndex(dim schema.Dimension, snapshot []storage.KeyValue) (*Index, error) {
	ix := &Index{dim: dim, keys: make(map[string]int64, len(snapshot))}
	dups := make(map[string][]int64)

	for _, kv := range snapshot {
		k, ok := CanonicalKey(dim.KeyKind, kv.Natural)
		if !ok {
			ix.skipped++
			continue
		}
		if prev, exists := ix.keys[k]; exists {
			if _, seen := dups[k]; !seen {
				dups[k] = []int64{prev}
			}
			dups[k] = append(dups[k], kv.Surrogate)
			continue
		}
		ix.keys[k] = kv.Surrogate
	}

	if len(dups) > 0 {
		keys := make([]string, 0, len(dups))
		for k := range dups {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		first := keys[0]
		return nil, &CardinalityError{
			Dimension:  dim.Name,
			Table:      dim.Table,
			Key:        first,
			Surrogates: dups[first],
			Duplicates: len(dups),
		}
	}
	return ix, nil
}

// Lookup returns the surrogate key for a raw staging value.
func (ix *Index) Lookup(v any) (int64, bool) {
	k, ok := CanonicalKey(ix.dim.KeyKind, v)
	if !ok {
		return 0, false
	}
	id, ok := ix.keys[k]
	return id, ok
}

// Dimension returns the dimension this index was built for.
func (ix *Index) Dimension() schema.Dimension { return ix.dim }

// Len is the number of distinct natural keys in the index.
func (ix *Index) Len() int { return len(ix.keys) }

// Skipped is the number of snapshot rows left out of the index.
func (ix *Index) Skipped() int { return ix.skipped }
