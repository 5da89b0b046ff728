package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// ErrUnsupportedFormat is wrapped by every FormatError
var ErrUnsupportedFormat = errors.New("unsupported format")

// FormatError names an upload extension no loader accepts
type FormatError struct {
	Ext string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported format %q: accepted formats are %s", e.Ext, strings.Join(SupportedExtensions(), ", "))
}

func (e *FormatError) Unwrap() error { return ErrUnsupportedFormat }

// Invalid marks the error as a user input problem
func (e *FormatError) Invalid() bool { return true }

type loader func(data []byte) (*Table, error)

var loaders = map[string]loader{
	".csv":  func(data []byte) (*Table, error) { return loadDelimited(data, ',') },
	".tsv":  func(data []byte) (*Table, error) { return loadDelimited(data, '\t') },
	".txt":  func(data []byte) (*Table, error) { return loadDelimited(data, '\t') },
	".json": loadJSON,
	".xlsx": loadXLSX,
	".xls":  loadXLS,
}

// SupportedExtensions lists the accepted upload extensions
func SupportedExtensions() []string {
	exts := make([]string, 0, len(loaders))
	for ext := range loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// FormatOf returns the loader format for a filename, e.g. "csv"
func FormatOf(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := loaders[ext]; !ok {
		return "", &FormatError{Ext: ext}
	}
	return strings.TrimPrefix(ext, "."), nil
}

// Load parses an uploaded file, picking the loader by extension.
// No partial table is returned on error.
func Load(filename string, r io.Reader) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	load, ok := loaders[ext]
	if !ok {
		return nil, &FormatError{Ext: ext}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	t, err := load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return t, nil
}

// toUTF8 decodes Windows-1252 input; UTF-8 passes through untouched
func toUTF8(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return bytes.ToValidUTF8(data, []byte("�"))
	}
	return decoded
}

func toUTF8String(s string) string {
	return string(toUTF8([]byte(s)))
}

func loadDelimited(data []byte, delim rune) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(toUTF8(data)))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("file is empty")
	}
	return fromRecords(records[0], records[1:])
}

func loadXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		return fromRecords(rows[0], rows[1:])
	}
	return nil, errors.New("no sheet with data found")
}

func loadXLS(data []byte) (*Table, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open xls file: %w", err)
	}

	for si := 0; si < wb.NumSheets(); si++ {
		sheet := wb.GetSheet(si)
		if sheet == nil {
			continue
		}
		var rows [][]string
		for ri := 0; ri <= int(sheet.MaxRow); ri++ {
			row := sheet.Row(ri)
			if row == nil {
				continue
			}
			cells := make([]string, row.LastCol())
			hasData := false
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells[c] = toUTF8String(row.Col(c))
				if strings.TrimSpace(cells[c]) != "" {
					hasData = true
				}
			}
			if hasData {
				rows = append(rows, cells)
			}
		}
		if len(rows) > 0 {
			return fromRecords(rows[0], rows[1:])
		}
	}
	return nil, errors.New("no sheet with data found")
}

// loadJSON accepts an array of records or an object of columns, the two
// layouts pandas writes by default
func loadJSON(data []byte) (*Table, error) {
	data = toUTF8(data)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("file is empty")
	}

	switch trimmed[0] {
	case '[':
		return jsonRecords(trimmed)
	case '{':
		return jsonColumns(trimmed)
	default:
		return nil, errors.New("expected a JSON array of records or an object of columns")
	}
}

func jsonRecords(data []byte) (*Table, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var header []string
	seen := make(map[string]int)
	var objects []map[string]any
	for i, item := range raw {
		keys, err := objectKeys(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = len(header)
				header = append(header, k)
			}
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		objects = append(objects, obj)
	}

	rows := make([][]string, len(objects))
	for i, obj := range objects {
		row := make([]string, len(header))
		for k, v := range obj {
			row[seen[k]] = jsonText(v)
		}
		rows[i] = row
	}
	return fromRecords(header, rows)
}

func jsonColumns(data []byte) (*Table, error) {
	header, err := objectKeys(data)
	if err != nil {
		return nil, err
	}
	var cols map[string]json.RawMessage
	if err := json.Unmarshal(data, &cols); err != nil {
		return nil, err
	}

	columns := make([][]string, len(header))
	var rowKeys []string
	for ci, name := range header {
		raw := bytes.TrimSpace(cols[name])
		if len(raw) > 0 && raw[0] == '[' {
			var vals []any
			if err := json.Unmarshal(raw, &vals); err != nil {
				return nil, fmt.Errorf("column %q: %w", name, err)
			}
			for _, v := range vals {
				columns[ci] = append(columns[ci], jsonText(v))
			}
			continue
		}

		var byIndex map[string]any
		if err := json.Unmarshal(raw, &byIndex); err != nil {
			return nil, fmt.Errorf("column %q: expected a list or an index object", name)
		}
		if rowKeys == nil {
			rowKeys = sortedIndexKeys(byIndex)
		}
		for _, k := range rowKeys {
			columns[ci] = append(columns[ci], jsonText(byIndex[k]))
		}
	}

	n := 0
	for _, c := range columns {
		if len(c) > n {
			n = len(c)
		}
	}
	rows := make([][]string, n)
	for i := range rows {
		row := make([]string, len(header))
		for ci := range header {
			if i < len(columns[ci]) {
				row[ci] = columns[ci][i]
			}
		}
		rows[i] = row
	}
	return fromRecords(header, rows)
}

// sortedIndexKeys orders pandas index keys numerically when they are numbers
func sortedIndexKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseFloat(keys[i], 64)
		b, errB := strconv.ParseFloat(keys[j], 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// objectKeys returns the top-level keys of a JSON object in document order
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a JSON object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("expected an object key")
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func jsonText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// fromRecords builds a table from a header and string cells, inferring a
// Number or Date type for columns whose non-empty cells all parse as such
func fromRecords(header []string, records [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, errors.New("missing header row")
	}

	width := len(header)
	for _, rec := range records {
		if len(rec) > width {
			width = len(rec)
		}
	}
	padded := make([]string, width)
	copy(padded, header)
	names := uniqueNames(padded)

	cell := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	cols := make([]Column, width)
	for i, name := range names {
		cols[i] = Column{Name: name, Type: inferType(records, i, cell)}
	}

	t := New(cols...)
	for _, rec := range records {
		row := make([]any, width)
		for i, c := range cols {
			s := cell(rec, i)
			switch c.Type {
			case Number:
				if f, ok := parseNumber(s); ok {
					row[i] = f
				} else {
					row[i] = math.NaN()
				}
			case Date:
				d, _ := parseDate(s)
				row[i] = d
			default:
				row[i] = s
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func inferType(records [][]string, i int, cell func([]string, int) string) Type {
	numeric, dated, seen := true, true, false
	for _, rec := range records {
		s := cell(rec, i)
		if s == "" {
			continue
		}
		seen = true
		if numeric {
			if _, ok := parseNumber(s); !ok {
				numeric = false
			}
		}
		if dated {
			if _, ok := parseDate(s); !ok {
				dated = false
			}
		}
		if !numeric && !dated {
			return String
		}
	}
	switch {
	case !seen:
		return String
	case numeric:
		return Number
	case dated:
		return Date
	}
	return String
}

// uniqueNames fills blank headers and suffixes duplicates the pandas way,
// skipping suffixes another header already uses
func uniqueNames(header []string) []string {
	names := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	for _, h := range header {
		if name := strings.TrimSpace(h); name != "" {
			taken[name] = true
		}
	}
	emitted := make(map[string]bool, len(header))
	next := make(map[string]int)
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if emitted[name] {
			base := name
			for {
				next[base]++
				name = fmt.Sprintf("%s.%d", base, next[base])
				if !taken[name] && !emitted[name] {
					break
				}
			}
		}
		emitted[name] = true
		names[i] = name
	}
	return names
}
