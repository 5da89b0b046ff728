package dashboard

import (
	"fmt"
	"strings"
	"time"

	"bizdash/analytics"
	"bizdash/dataset"
	"bizdash/utils"
)

// File is an uploaded table as the files page sees it
type File struct {
	ID    string
	Name  string
	Table *dataset.Table
}

// FileSummary describes one upload
type FileSummary struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Rows        int              `json:"rows"`
	Columns     int              `json:"columns"`
	ColumnList  []dataset.Column `json:"column_list"`
	ApproxBytes int64            `json:"approx_bytes"`
	Size        string           `json:"size"`
	Head        []map[string]any `json:"head"`
}

func filesPage() *Page {
	return &Page{
		ID:          PageFiles,
		Title:       "Análise de Arquivos",
		Description: "Uploaded CSV, TSV, JSON and Excel files",
	}
}

// ApproxSize estimates the in-memory size of a table's values
func ApproxSize(t *dataset.Table) int64 {
	var n int64
	for i := 0; i < t.Len(); i++ {
		for _, c := range t.Columns() {
			switch v := t.Value(i, c.Name).(type) {
			case string:
				n += int64(len(v)) + 16
			case time.Time:
				n += 24
			default:
				n += 8
			}
		}
	}
	return n
}

// Summarize builds the files page summary of an upload
func Summarize(f File) FileSummary {
	size := ApproxSize(f.Table)
	return FileSummary{
		ID:          f.ID,
		Name:        f.Name,
		Rows:        f.Table.Len(),
		Columns:     len(f.Table.Columns()),
		ColumnList:  f.Table.Columns(),
		ApproxBytes: size,
		Size:        utils.FormatFileSize(size),
		Head:        f.Table.Head(5).Records(0),
	}
}

// FilesView renders the files page for the given uploads
func FilesView(files []File) *View {
	page := filesPage()
	v := &View{Page: page.ID, Title: page.Title, Charts: []Chart{}}

	var rows, cols float64
	for _, f := range files {
		s := Summarize(f)
		v.Files = append(v.Files, s)
		rows += float64(s.Rows)
		cols += float64(s.Columns)
	}
	v.Rows = int(rows)
	v.BaselineRows = v.Rows
	v.Metrics = []Metric{
		{Label: "Arquivos", Value: float64(len(files)), Display: integer(float64(len(files)))},
		{Label: "Número de Linhas", Value: rows, Display: integer(rows)},
		{Label: "Número de Colunas", Value: cols, Display: integer(cols)},
	}
	v.Context = FilesContext(files)
	return v
}

// FilesContext describes every upload for the assistant: columns, first
// rows and summary statistics
func FilesContext(files []File) string {
	if len(files) == 0 {
		return "No files have been uploaded.\n"
	}
	var sb strings.Builder
	sb.WriteString("Uploaded files (available as dataframes['<name>']):\n")
	for _, f := range files {
		t := f.Table
		fmt.Fprintf(&sb, "\nFile: %s\n", f.Name)
		fmt.Fprintf(&sb, "- Rows: %s\n", integer(analytics.Count(t)))
		fmt.Fprintf(&sb, "- Columns: %d\n", len(t.Columns()))
		names := make([]string, 0, len(t.Columns()))
		for _, c := range t.Columns() {
			names = append(names, fmt.Sprintf("%s (%s)", c.Name, c.Type))
		}
		fmt.Fprintf(&sb, "- Column names: %s\n", strings.Join(names, ", "))
		fmt.Fprintf(&sb, "\nFirst rows:\n%s", t.Text(5))
		fmt.Fprintf(&sb, "\nStatistics:\n%s", t.DescribeText())
	}
	return sb.String()
}
