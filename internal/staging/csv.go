package staging

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"factload/internal/schema"
)

func readCSV(ctx context.Context, path string, r io.Reader, comma rune, fields []schema.Field) ([]schema.Row, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	line := 1
	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, &MissingFieldsError{Path: path, Fields: requiredNames(fields)}
	}
	if err != nil {
		return nil, fmt.Errorf("staging: %s line %d: read header: %w", path, line, err)
	}
	colIx, err := bindHeader(path, append([]string(nil), hdr...), fields)
	if err != nil {
		return nil, err
	}

	var rows []schema.Row
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("staging: %s line %d: %w", path, line, err)
		}

		row := schema.Row{Line: line, V: make([]any, len(fields))}
		for t, si := range colIx {
			if si < 0 || si >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[si])
			if v != "" {
				row.V[t] = v
			}
		}
		rows = append(rows, row)
	}
}

func requiredNames(fields []schema.Field) []string {
	var out []string
	for _, f := range fields {
		if !f.Optional {
			out = append(out, f.Name)
		}
	}
	return out
}
