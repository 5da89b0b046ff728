// Package dataset holds the tabular model every dashboard works on, the
// synthetic generators for each page and the loaders for uploaded files.
package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Type is the scalar type of a column
type Type int

const (
	Number Type = iota
	String
	Date
	Category
)

var typeNames = map[Type]string{
	Number:   "number",
	String:   "string",
	Date:     "date",
	Category: "category",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// IsText reports whether values of the type are strings
func (t Type) IsText() bool { return t == String || t == Category }

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, v := range typeNames {
		if v == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown column type %q", s)
}

// Column describes one column of a Table
type Column struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Table is an ordered set of uniformly shaped records. Values are float64
// for Number, string for String and Category, time.Time for Date. A Table
// is read-only once built; derived columns produce a new Table.
type Table struct {
	cols  []Column
	index map[string]int
	rows  [][]any
}

// New creates an empty table. It panics on duplicate column names.
func New(cols ...Column) *Table {
	t := &Table{
		cols:  append([]Column(nil), cols...),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if _, dup := t.index[c.Name]; dup {
			panic(fmt.Sprintf("dataset: duplicate column %q", c.Name))
		}
		t.index[c.Name] = i
	}
	return t
}

func coerce(c Column, v any) (any, error) {
	switch c.Type {
	case Number:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		}
	case String, Category:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Date:
		if d, ok := v.(time.Time); ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("column %q (%s): unexpected value %v of type %T", c.Name, c.Type, v, v)
}

// AppendRow adds a record; values must match the column types in order
func (t *Table) AppendRow(vals ...any) error {
	if len(vals) != len(t.cols) {
		return fmt.Errorf("row has %d values, table has %d columns", len(vals), len(t.cols))
	}
	row := make([]any, len(vals))
	for i, v := range vals {
		cv, err := coerce(t.cols[i], v)
		if err != nil {
			return err
		}
		row[i] = cv
	}
	t.rows = append(t.rows, row)
	return nil
}

func (t *Table) mustAppend(vals ...any) {
	if err := t.AppendRow(vals...); err != nil {
		panic(err)
	}
}

// Len returns the number of rows
func (t *Table) Len() int { return len(t.rows) }

// Columns returns a copy of the column list
func (t *Table) Columns() []Column { return append([]Column(nil), t.cols...) }

// ColumnNames returns the column names in order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.cols[i], true
}

// Has reports whether the table has a column
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Row returns an accessor for row i
func (t *Table) Row(i int) Row { return Row{t: t, i: i} }

// Value returns the raw value at row i, column name, or nil
func (t *Table) Value(i int, name string) any {
	ci, ok := t.index[name]
	if !ok || i < 0 || i >= len(t.rows) {
		return nil
	}
	return t.rows[i][ci]
}

// Numbers returns a copy of a Number column; NaN for missing columns
func (t *Table) Numbers(name string) []float64 {
	out := make([]float64, len(t.rows))
	for i := range t.rows {
		out[i] = t.Row(i).Number(name)
	}
	return out
}

// Strings returns a column rendered as strings
func (t *Table) Strings(name string) []string {
	out := make([]string, len(t.rows))
	for i := range t.rows {
		out[i] = t.Row(i).Str(name)
	}
	return out
}

// Subset returns a table holding rows idx in that order
func (t *Table) Subset(idx []int) *Table {
	out := New(t.cols...)
	out.rows = make([][]any, 0, len(idx))
	for _, i := range idx {
		out.rows = append(out.rows, t.rows[i])
	}
	return out
}

// Head returns the first n rows
func (t *Table) Head(n int) *Table {
	if n > len(t.rows) {
		n = len(t.rows)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return t.Subset(idx)
}

// Clone returns a deep copy
func (t *Table) Clone() *Table {
	out := New(t.cols...)
	out.rows = make([][]any, len(t.rows))
	for i, r := range t.rows {
		out.rows[i] = append([]any(nil), r...)
	}
	return out
}

// WithColumn returns a new table with col appended, its values computed per
// row by fn. The receiver is left untouched.
func (t *Table) WithColumn(col Column, fn func(r Row) any) (*Table, error) {
	if t.Has(col.Name) {
		return nil, fmt.Errorf("column %q already exists", col.Name)
	}
	out := New(append(t.Columns(), col)...)
	out.rows = make([][]any, len(t.rows))
	for i, r := range t.rows {
		v, err := coerce(col, fn(t.Row(i)))
		if err != nil {
			return nil, err
		}
		row := make([]any, len(r)+1)
		copy(row, r)
		row[len(r)] = v
		out.rows[i] = row
	}
	return out, nil
}

func (t *Table) mustWithColumn(col Column, fn func(r Row) any) *Table {
	out, err := t.WithColumn(col, fn)
	if err != nil {
		panic(err)
	}
	return out
}

// Unique returns the sorted distinct values of a column as strings
func (t *Table) Unique(name string) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range t.rows {
		s := t.Row(i).Str(name)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NumberRange returns the min and max of a Number column ignoring NaN
func (t *Table) NumberRange(name string) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := range t.rows {
		v := t.Row(i).Number(name)
		if math.IsNaN(v) {
			continue
		}
		ok = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// DateRange returns the earliest and latest non-zero date in a column
func (t *Table) DateRange(name string) (first, last time.Time, ok bool) {
	for i := range t.rows {
		d := t.Row(i).Time(name)
		if d.IsZero() {
			continue
		}
		if !ok || d.Before(first) {
			first = d
		}
		if !ok || d.After(last) {
			last = d
		}
		ok = true
	}
	return first, last, ok
}

// Row is a read accessor over one record
type Row struct {
	t *Table
	i int
}

// Index returns the row position in its table
func (r Row) Index() int { return r.i }

// Value returns the raw value of a column
func (r Row) Value(name string) any { return r.t.Value(r.i, name) }

// Number returns a Number value, NaN when absent or not numeric
func (r Row) Number(name string) float64 {
	if f, ok := r.Value(name).(float64); ok {
		return f
	}
	return math.NaN()
}

// Str renders any value as a string
func (r Row) Str(name string) string {
	return FormatValue(r.Value(name))
}

// Time returns a Date value, zero when absent
func (r Row) Time(name string) time.Time {
	if d, ok := r.Value(name).(time.Time); ok {
		return d
	}
	return time.Time{}
}

// FormatValue renders a cell the way tables print it
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return "NaN"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
