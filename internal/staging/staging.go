// Package staging reads the transformed staging dataset a fact load consumes.
//
// Rows come back as raw values (strings for CSV, decoded JSON scalars for
// JSON) aligned to the requested field list. Typing happens later: natural
// keys are coerced by the resolver and fact columns by the loader.
package staging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"

	"factload/internal/schema"
)

// Source locates a staging file.
type Source struct {
	Path string `json:"path" yaml:"path"`

	// Format is "csv", "json" or "jsonl". Empty means "infer from extension".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Comma is the CSV delimiter. Empty means ','.
	Comma string `json:"comma,omitempty" yaml:"comma,omitempty"`
}

// ErrUnsupportedFormat is returned when the staging format is neither CSV nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported format")

// MissingFieldsError reports required staging fields absent from the input.
type MissingFieldsError struct {
	Path   string
	Fields []string
	Have   []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("staging %s: missing fields %v (have %v)", e.Path, e.Fields, e.Have)
}

// Read loads every row of src aligned to fields.
//
// Edge cases:
//   - A path ending in ".sz" is decompressed as a snappy framed stream; the
//     format is then inferred from the name without that suffix.
//   - Blank values become nil.
//   - An optional field missing from the input yields nil in every row.
//
// Errors:
//   - *MissingFieldsError when a required field is absent.
//   - Wrapped I/O and decode errors otherwise, with the offending line.
func Read(ctx context.Context, src Source, fields []schema.Field) ([]schema.Row, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("staging: open %s: %w", src.Path, err)
	}
	defer f.Close()

	name := src.Path
	var r io.Reader = bufio.NewReaderSize(f, 1<<16)
	if strings.EqualFold(filepath.Ext(name), ".sz") {
		r = snappy.NewReader(r)
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	format := strings.ToLower(strings.TrimSpace(src.Format))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	}

	switch format {
	case "csv", "txt":
		comma := ','
		if src.Comma != "" {
			comma = []rune(src.Comma)[0]
		}
		return readCSV(ctx, src.Path, r, comma, fields)
	case "json", "jsonl", "ndjson":
		return readJSON(ctx, src.Path, r, fields)
	default:
		return nil, fmt.Errorf("staging: %w %q for %s", ErrUnsupportedFormat, format, src.Path)
	}
}

// bindHeader maps each requested field to its position in header. Matching is
// exact first, then case-insensitive.
func bindHeader(path string, header []string, fields []schema.Field) ([]int, error) {
	exact := make(map[string]int, len(header))
	folded := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		header[i] = h
		if _, ok := exact[h]; !ok {
			exact[h] = i
		}
		if _, ok := folded[strings.ToLower(h)]; !ok {
			folded[strings.ToLower(h)] = i
		}
	}

	idx := make([]int, len(fields))
	var missing []string
	for i, f := range fields {
		if j, ok := exact[f.Name]; ok {
			idx[i] = j
			continue
		}
		if j, ok := folded[strings.ToLower(f.Name)]; ok {
			idx[i] = j
			continue
		}
		idx[i] = -1
		if !f.Optional {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{Path: path, Fields: missing, Have: append([]string(nil), header...)}
	}
	return idx, nil
}
