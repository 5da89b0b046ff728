package chart

import (
	"errors"
	"fmt"

	"bizdash/analytics"
	"bizdash/dataset"
)

// Build maps a table and a chart description to a figure. t may be nil when
// s carries inline data.
func Build(t *dataset.Table, s Spec) (*Figure, error) {
	if !s.Kind.supported() {
		return nil, &ConfigurationError{Kind: s.Kind, Reason: "unsupported chart kind"}
	}
	if s.Agg != "" {
		if _, err := analytics.ParseOp(string(s.Agg)); err != nil {
			return nil, s.confErr("agg", "unsupported aggregation %q", s.Agg)
		}
	}

	var (
		fig *Figure
		err error
	)
	switch {
	case s.Inline != nil:
		fig, err = buildInline(s)
	case t == nil:
		return nil, s.confErr("dataset", "no table to plot")
	default:
		switch s.Kind {
		case Bar, Line, Scatter:
			fig, err = buildXY(t, s)
		case Pie:
			fig, err = buildPie(t, s)
		case Histogram:
			fig, err = buildHistogram(t, s)
		case Box:
			fig, err = buildBox(t, s)
		}
	}
	if err != nil {
		return nil, err
	}

	fig.SetTitle(s.Title)
	if s.BarMode != "" {
		fig.Layout.BarMode = s.BarMode
	}
	if s.Color != "" {
		fig.Layout.Legend = &Legend{Title: &Text{Text: s.label(s.Color)}}
	}
	return fig, nil
}

func (s Spec) column(t *dataset.Table, field, name string, numeric bool) error {
	if name == "" {
		return s.confErr(field, "column binding is required")
	}
	col, ok := t.Column(name)
	if !ok {
		return s.confErr(field, "unknown column %q", name)
	}
	if numeric && col.Type != dataset.Number {
		return s.confErr(field, "column %q is %s, not number", name, col.Type)
	}
	return nil
}

func traceType(k Kind) (typ, mode string) {
	switch k {
	case Line:
		return "scatter", "lines"
	case Scatter:
		return "scatter", "markers"
	}
	return string(k), ""
}

// series is one trace worth of rows
type series struct {
	name string
	rows *dataset.Table
}

func splitByColor(t *dataset.Table, color string) []series {
	if color == "" {
		return []series{{rows: t}}
	}
	var out []series
	for _, key := range t.Unique(color) {
		filtered, err := analytics.Apply(t, analytics.FilterSpec{Predicates: []analytics.Predicate{analytics.Equals(color, key)}})
		if err != nil {
			continue
		}
		out = append(out, series{name: key, rows: filtered})
	}
	return out
}

func buildXY(t *dataset.Table, s Spec) (*Figure, error) {
	if err := s.column(t, "x", s.X, false); err != nil {
		return nil, err
	}
	if s.Color != "" {
		if err := s.column(t, "color", s.Color, false); err != nil {
			return nil, err
		}
	}
	ys := []string(s.Y)
	if len(ys) == 0 && s.Kind == Scatter {
		return nil, s.confErr("y", "column binding is required")
	}
	for _, y := range ys {
		if err := s.column(t, "y", y, true); err != nil {
			return nil, err
		}
	}
	if len(ys) > 1 && s.Color != "" {
		return nil, s.confErr("color", "color grouping needs a single y column")
	}
	if s.Size != "" {
		if s.Kind != Scatter {
			return nil, s.confErr("size", "only scatter charts take a size column")
		}
		if err := s.column(t, "size", s.Size, true); err != nil {
			return nil, err
		}
	}

	data := t
	if len(ys) == 0 || s.Agg != "" {
		groupBy := []string{s.X}
		if s.Color != "" && s.Color != s.X {
			groupBy = append(groupBy, s.Color)
		}
		var metrics []analytics.Metric
		if len(ys) == 0 {
			metrics = []analytics.Metric{{Op: analytics.OpCount}}
			ys = []string{"count"}
		} else {
			for _, y := range ys {
				metrics = append(metrics, analytics.Metric{Column: y, Op: s.Agg})
			}
		}
		agg, err := analytics.Aggregate(t, groupBy, metrics)
		if err != nil {
			var ve *analytics.ValidationError
			if errors.As(err, &ve) {
				return nil, s.confErr(ve.Field, "%s", ve.Reason)
			}
			return nil, err
		}
		data = agg
	}

	typ, mode := traceType(s.Kind)
	fig := &Figure{Data: []Trace{}}
	for _, part := range splitByColor(data, s.Color) {
		for _, y := range ys {
			tr := Trace{
				Type: typ,
				Mode: mode,
				X:    ColumnValues(part.rows, s.X),
				Y:    ColumnValues(part.rows, y),
				Name: traceName(s, part.name, y, len(ys)),
			}
			if s.Size != "" && data == t {
				tr.Marker = &Marker{Size: ColumnValues(part.rows, s.Size), SizeMode: "area"}
			}
			fig.Data = append(fig.Data, tr)
		}
	}

	yTitle := s.label(ys[0])
	if len(ys) > 1 {
		yTitle = s.label("value")
	}
	fig.SetAxisTitles(s.label(s.X), yTitle)
	if s.Kind == Bar && s.Color != "" && s.BarMode == "" {
		fig.Layout.BarMode = "group"
	}
	return fig, nil
}

func traceName(s Spec, group, y string, ys int) string {
	switch {
	case s.Name != "":
		return s.Name
	case group != "":
		return group
	case ys > 1:
		return s.label(y)
	}
	return ""
}

func buildPie(t *dataset.Table, s Spec) (*Figure, error) {
	if err := s.column(t, "names", s.Names, false); err != nil {
		return nil, err
	}
	metric := analytics.Metric{Op: analytics.OpCount}
	valueCol := "count"
	if s.Values != "" {
		if err := s.column(t, "values", s.Values, true); err != nil {
			return nil, err
		}
		op := s.Agg
		if op == "" {
			op = analytics.OpSum
		}
		metric = analytics.Metric{Column: s.Values, Op: op}
		valueCol = s.Values
	}
	agg, err := analytics.Aggregate(t, []string{s.Names}, []analytics.Metric{metric})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate pie values: %w", err)
	}
	if s.Hole < 0 || s.Hole >= 1 {
		return nil, s.confErr("hole", "must be in [0, 1)")
	}
	return &Figure{Data: []Trace{{
		Type:   "pie",
		Name:   s.Name,
		Labels: agg.Strings(s.Names),
		Values: agg.Numbers(valueCol),
		Hole:   s.Hole,
	}}}, nil
}

func buildHistogram(t *dataset.Table, s Spec) (*Figure, error) {
	if err := s.column(t, "x", s.X, false); err != nil {
		return nil, err
	}
	if s.Color != "" {
		if err := s.column(t, "color", s.Color, false); err != nil {
			return nil, err
		}
	}
	if s.Bins < 0 {
		return nil, s.confErr("nbins", "must not be negative")
	}
	fig := &Figure{Data: []Trace{}}
	for _, part := range splitByColor(t, s.Color) {
		fig.Data = append(fig.Data, Trace{
			Type:   "histogram",
			Name:   traceName(s, part.name, "", 1),
			X:      ColumnValues(part.rows, s.X),
			NBinsX: s.Bins,
		})
	}
	fig.SetAxisTitles(s.label(s.X), s.label("count"))
	if s.Color != "" && s.BarMode == "" {
		fig.Layout.BarMode = "overlay"
	}
	return fig, nil
}

func buildBox(t *dataset.Table, s Spec) (*Figure, error) {
	ys := []string(s.Y)
	fig := &Figure{Data: []Trace{}}
	if len(ys) == 0 {
		// a lone numeric x is drawn horizontally
		if err := s.column(t, "x", s.X, true); err != nil {
			return nil, err
		}
		fig.Data = append(fig.Data, Trace{Type: "box", Name: s.Name, X: ColumnValues(t, s.X), Orientation: "h"})
		fig.SetAxisTitles(s.label(s.X), "")
		return fig, nil
	}
	if s.X != "" {
		if err := s.column(t, "x", s.X, false); err != nil {
			return nil, err
		}
	}
	for _, y := range ys {
		if err := s.column(t, "y", y, true); err != nil {
			return nil, err
		}
	}
	for _, y := range ys {
		tr := Trace{Type: "box", Name: traceName(s, "", y, len(ys)), Y: ColumnValues(t, y)}
		if s.X != "" {
			tr.X = ColumnValues(t, s.X)
		}
		fig.Data = append(fig.Data, tr)
	}
	yTitle := s.label(ys[0])
	if len(ys) > 1 {
		yTitle = s.label("value")
	}
	fig.SetAxisTitles(s.label(s.X), yTitle)
	return fig, nil
}

func buildInline(s Spec) (*Figure, error) {
	in := s.Inline
	typ, mode := traceType(s.Kind)
	switch s.Kind {
	case Pie:
		if len(in.Values) == 0 {
			return nil, s.confErr("values", "inline pie needs values")
		}
		if len(in.Names) != 0 && len(in.Names) != len(in.Values) {
			return nil, s.confErr("names", "%d names for %d values", len(in.Names), len(in.Values))
		}
		return &Figure{Data: []Trace{{Type: "pie", Name: s.Name, Labels: in.Names, Values: in.Values, Hole: s.Hole}}}, nil
	case Histogram:
		if len(in.X) == 0 {
			return nil, s.confErr("x", "inline histogram needs x values")
		}
		return &Figure{Data: []Trace{{Type: typ, Name: s.Name, X: in.X, NBinsX: s.Bins}}}, nil
	case Box:
		if len(in.Y) == 0 {
			return nil, s.confErr("y", "inline box needs y values")
		}
		tr := Trace{Type: typ, Name: s.Name, Y: floats(in.Y)}
		if len(in.X) > 0 {
			tr.X = in.X
		}
		return &Figure{Data: []Trace{tr}}, nil
	}

	if len(in.Y) == 0 {
		return nil, s.confErr("y", "inline %s needs y values", s.Kind)
	}
	x := in.X
	if len(x) == 0 {
		x = make([]any, len(in.Y))
		for i := range x {
			x[i] = i
		}
	}
	if len(x) != len(in.Y) {
		return nil, s.confErr("x", "%d x values for %d y values", len(x), len(in.Y))
	}
	fig := &Figure{Data: []Trace{{Type: typ, Mode: mode, Name: s.Name, X: x, Y: floats(in.Y)}}}
	fig.SetAxisTitles(s.label("x"), s.label("y"))
	return fig, nil
}

func floats(vs []float64) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = plotValue(v)
	}
	return out
}
