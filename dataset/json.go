package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type tableJSON struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func jsonCell(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

// MarshalJSON encodes the table as {"columns": [...], "rows": [[...]]}
func (t *Table) MarshalJSON() ([]byte, error) {
	out := tableJSON{Columns: t.cols, Rows: make([][]any, len(t.rows))}
	for i, r := range t.rows {
		row := make([]any, len(r))
		for j, v := range r {
			row[j] = jsonCell(v)
		}
		out.Rows[i] = row
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the format written by MarshalJSON
func (t *Table) UnmarshalJSON(data []byte) error {
	var in tableJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	decoded := New(in.Columns...)
	for i, r := range in.Rows {
		if len(r) != len(in.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(r), len(in.Columns))
		}
		row := make([]any, len(r))
		for j, v := range r {
			cell, err := decodeCell(in.Columns[j], v)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			row[j] = cell
		}
		decoded.rows = append(decoded.rows, row)
	}
	*t = *decoded
	return nil
}

func decodeCell(c Column, v any) (any, error) {
	switch c.Type {
	case Number:
		if v == nil {
			return math.NaN(), nil
		}
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case Date:
		if v == nil {
			return time.Time{}, nil
		}
		if s, ok := v.(string); ok {
			d, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", c.Name, err)
			}
			return d, nil
		}
	default:
		if v == nil {
			return "", nil
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("column %q (%s): unexpected value %v", c.Name, c.Type, v)
}

// Records renders up to limit rows (all when limit <= 0) as JSON-friendly
// maps: dates as text, missing numbers as null
func (t *Table) Records(limit int) []map[string]any {
	n := len(t.rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		rec := make(map[string]any, len(t.cols))
		for j, c := range t.cols {
			v := t.rows[i][j]
			if d, ok := v.(time.Time); ok {
				rec[c.Name] = FormatValue(d)
				continue
			}
			rec[c.Name] = jsonCell(v)
		}
		out[i] = rec
	}
	return out
}
