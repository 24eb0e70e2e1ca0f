package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"factload/internal/schema"
)

// readJSON accepts either a root array of objects or a stream of objects
// (JSON Lines). Required fields are checked against the first object.
func readJSON(ctx context.Context, path string, r io.Reader, fields []schema.Field) ([]schema.Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var (
		rows []schema.Row
		n    int
	)

	emit := func(obj map[string]any) error {
		n++
		if n == 1 {
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			if _, err := bindHeader(path, keys, fields); err != nil {
				return err
			}
		}

		row := schema.Row{Line: n, V: make([]any, len(fields))}
		for i, f := range fields {
			row.V[i] = scalar(lookup(obj, f.Name))
		}
		rows = append(rows, row)
		return nil
	}

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("staging: %s: read first token: %w", path, err)
	}

	switch tok {
	case json.Delim('['):
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var obj map[string]any
			if err := dec.Decode(&obj); err != nil {
				return nil, fmt.Errorf("staging: %s record %d: %w", path, n+1, err)
			}
			if err := emit(obj); err != nil {
				return nil, err
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("staging: %s: read array end: %w", path, err)
		}
		return rows, nil

	case json.Delim('{'):
		// JSON Lines: the first object is already open, finish it by hand.
		first, err := decodeOpenObject(dec)
		if err != nil {
			return nil, fmt.Errorf("staging: %s record 1: %w", path, err)
		}
		if err := emit(first); err != nil {
			return nil, err
		}
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var obj map[string]any
			if err := dec.Decode(&obj); err != nil {
				if err == io.EOF {
					return rows, nil
				}
				return nil, fmt.Errorf("staging: %s record %d: %w", path, n+1, err)
			}
			if err := emit(obj); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("staging: %s: unsupported root token %v (want object or array)", path, tok)
	}
}

// decodeOpenObject reads the remaining key/value pairs of an object whose
// opening brace was already consumed.
func decodeOpenObject(dec *json.Decoder) (map[string]any, error) {
	obj := make(map[string]any)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		k, ok := kt.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", kt)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		obj[k] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

// lookup finds name in obj, exactly first and then case-insensitively.
func lookup(obj map[string]any, name string) any {
	if v, ok := obj[name]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return v
		}
	}
	return nil
}

// scalar flattens JSON values to something the typed columns can coerce.
func scalar(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return strings.TrimSpace(t)
	case json.Number, bool:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
