package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
)

// Summary holds descriptive statistics of one numeric column
type Summary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
}

// Describe summarises every Number column, skipping missing values.
// Std is the sample standard deviation; quantiles interpolate linearly.
func (t *Table) Describe() []Summary {
	var out []Summary
	for _, c := range t.cols {
		if c.Type != Number {
			continue
		}
		var vals []float64
		for _, v := range t.Numbers(c.Name) {
			if !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		s := Summary{Column: c.Name, Count: len(vals)}
		if len(vals) > 0 {
			sort.Float64s(vals)
			var sum float64
			for _, v := range vals {
				sum += v
			}
			s.Mean = sum / float64(len(vals))
			if len(vals) > 1 {
				var sq float64
				for _, v := range vals {
					sq += (v - s.Mean) * (v - s.Mean)
				}
				s.Std = math.Sqrt(sq / float64(len(vals)-1))
			}
			s.Min = vals[0]
			s.Max = vals[len(vals)-1]
			s.P25 = quantile(vals, 0.25)
			s.P50 = quantile(vals, 0.5)
			s.P75 = quantile(vals, 0.75)
		}
		out = append(out, s)
	}
	return out
}

// quantile expects sorted, non-empty input
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func formatCell(v any) string {
	if f, ok := v.(float64); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return fmt.Sprintf("%.0f", f)
		}
		return fmt.Sprintf("%.2f", f)
	}
	return FormatValue(v)
}

// Text renders up to maxRows rows (all when maxRows <= 0) as an aligned
// plain-text grid with a leading row index
func (t *Table) Text(maxRows int) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)

	header := append([]string{""}, t.ColumnNames()...)
	fmt.Fprintln(w, strings.Join(header, "\t")+"\t")

	n := len(t.rows)
	if maxRows > 0 && maxRows < n {
		n = maxRows
	}
	for i := 0; i < n; i++ {
		cells := make([]string, 0, len(t.cols)+1)
		cells = append(cells, fmt.Sprint(i))
		for _, v := range t.rows[i] {
			cells = append(cells, formatCell(v))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t")+"\t")
	}
	w.Flush()

	if n < len(t.rows) {
		fmt.Fprintf(&sb, "... (%d more rows)\n", len(t.rows)-n)
	}
	return sb.String()
}

// DescribeText renders Describe as a grid with one column per numeric column
func (t *Table) DescribeText() string {
	summaries := t.Describe()
	if len(summaries) == 0 {
		return "(no numeric columns)\n"
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)

	header := []string{""}
	for _, s := range summaries {
		header = append(header, s.Column)
	}
	fmt.Fprintln(w, strings.Join(header, "\t")+"\t")

	stats := []struct {
		name string
		get  func(Summary) float64
	}{
		{"count", func(s Summary) float64 { return float64(s.Count) }},
		{"mean", func(s Summary) float64 { return s.Mean }},
		{"std", func(s Summary) float64 { return s.Std }},
		{"min", func(s Summary) float64 { return s.Min }},
		{"25%", func(s Summary) float64 { return s.P25 }},
		{"50%", func(s Summary) float64 { return s.P50 }},
		{"75%", func(s Summary) float64 { return s.P75 }},
		{"max", func(s Summary) float64 { return s.Max }},
	}
	for _, st := range stats {
		cells := []string{st.name}
		for _, s := range summaries {
			cells = append(cells, formatCell(st.get(s)))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t")+"\t")
	}
	w.Flush()
	return sb.String()
}
