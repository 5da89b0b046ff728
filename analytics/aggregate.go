package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"bizdash/dataset"
)

// Op is an aggregation function
type Op string

const (
	OpSum   Op = "sum"
	OpMean  Op = "mean"
	OpCount Op = "count"
	OpMin   Op = "min"
	OpMax   Op = "max"
)

// ParseOp accepts the operation names plus the plotly/pandas aliases
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return OpSum, nil
	case "mean", "avg", "average":
		return OpMean, nil
	case "count", "size":
		return OpCount, nil
	case "min":
		return OpMin, nil
	case "max":
		return OpMax, nil
	}
	return "", &ValidationError{Field: "aggregation", Reason: fmt.Sprintf("unsupported operation %q", s)}
}

// Metric is one output column of Aggregate
type Metric struct {
	Column string `json:"column,omitempty"`
	Op     Op     `json:"op"`
	As     string `json:"as,omitempty"`
}

// Name is the output column name
func (m Metric) Name() string {
	if m.As != "" {
		return m.As
	}
	if m.Op == OpCount {
		return "count"
	}
	return m.Column
}

type accumulator struct {
	sum  float64
	n    int // non-missing values
	rows int
	min  float64
	max  float64
}

func (a *accumulator) add(v float64) {
	a.rows++
	if math.IsNaN(v) {
		return
	}
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

func (a *accumulator) result(op Op) float64 {
	switch op {
	case OpSum:
		return a.sum
	case OpMean:
		return SafeDiv(a.sum, float64(a.n))
	case OpCount:
		return float64(a.rows)
	case OpMin:
		return a.min
	case OpMax:
		return a.max
	}
	return 0
}

type group struct {
	key  []any
	accs []accumulator
}

// Aggregate groups t by groupBy and reduces each metric per group. Groups
// come out sorted by key: text lexicographically, numbers and dates in
// ascending order. Without groupBy a single summary row is produced.
func Aggregate(t *dataset.Table, groupBy []string, metrics []Metric) (*dataset.Table, error) {
	if len(metrics) == 0 {
		return nil, &ValidationError{Field: "aggregation", Reason: "no metrics requested"}
	}

	cols := make([]dataset.Column, 0, len(groupBy)+len(metrics))
	seen := make(map[string]bool)
	for _, g := range groupBy {
		col, ok := t.Column(g)
		if !ok {
			return nil, &ValidationError{Field: "group by", Reason: fmt.Sprintf("unknown column %q", g)}
		}
		if seen[g] {
			return nil, &ValidationError{Field: "group by", Reason: fmt.Sprintf("column %q listed twice", g)}
		}
		seen[g] = true
		cols = append(cols, col)
	}
	for _, m := range metrics {
		switch m.Op {
		case OpSum, OpMean, OpMin, OpMax:
			col, ok := t.Column(m.Column)
			if !ok {
				return nil, &ValidationError{Field: "metric", Reason: fmt.Sprintf("unknown column %q", m.Column)}
			}
			if col.Type != dataset.Number {
				return nil, &ValidationError{Field: "metric", Reason: fmt.Sprintf("%s of %s column %q", m.Op, col.Type, m.Column)}
			}
		case OpCount:
			if m.Column != "" && !t.Has(m.Column) {
				return nil, &ValidationError{Field: "metric", Reason: fmt.Sprintf("unknown column %q", m.Column)}
			}
		default:
			return nil, &ValidationError{Field: "metric", Reason: fmt.Sprintf("unsupported operation %q", m.Op)}
		}
		name := m.Name()
		if seen[name] {
			return nil, &ValidationError{Field: "metric", Reason: fmt.Sprintf("duplicate output column %q", name)}
		}
		seen[name] = true
		cols = append(cols, dataset.Column{Name: name, Type: dataset.Number})
	}

	groups := make(map[string]*group)
	var order []*group
	if len(groupBy) == 0 {
		g := &group{accs: make([]accumulator, len(metrics))}
		groups[""] = g
		order = append(order, g)
	}

	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		key := make([]any, len(groupBy))
		parts := make([]string, len(groupBy))
		for j, c := range groupBy {
			key[j] = r.Value(c)
			parts[j] = r.Str(c)
		}
		id := strings.Join(parts, "\x1f")
		g, ok := groups[id]
		if !ok {
			g = &group{key: key, accs: make([]accumulator, len(metrics))}
			groups[id] = g
			order = append(order, g)
		}
		for j, m := range metrics {
			if m.Op == OpCount {
				g.accs[j].add(0)
				continue
			}
			g.accs[j].add(r.Number(m.Column))
		}
	}

	sort.SliceStable(order, func(a, b int) bool {
		return compareKeys(order[a].key, order[b].key) < 0
	})

	out := dataset.New(cols...)
	for _, g := range order {
		row := make([]any, 0, len(cols))
		row = append(row, g.key...)
		for j, m := range metrics {
			row = append(row, g.accs[j].result(m.Op))
		}
		if err := out.AppendRow(row...); err != nil {
			return nil, fmt.Errorf("failed to build aggregate row: %w", err)
		}
	}
	return out, nil
}

func compareKeys(a, b []any) int {
	for i := range a {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	return strings.Compare(dataset.FormatValue(a), dataset.FormatValue(b))
}
