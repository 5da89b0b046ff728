package chart

import (
	"encoding/json"
	"math"
	"time"

	"bizdash/dataset"
)

// Figure is a plotly figure: a list of traces and a layout
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// Trace is one plotly series
type Trace struct {
	Type        string    `json:"type"`
	Name        string    `json:"name,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	X           []any     `json:"x,omitempty"`
	Y           []any     `json:"y,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Values      []float64 `json:"values,omitempty"`
	Hole        float64   `json:"hole,omitempty"`
	NBinsX      int       `json:"nbinsx,omitempty"`
	Orientation string    `json:"orientation,omitempty"`
	Marker      *Marker   `json:"marker,omitempty"`
}

// Marker styles trace points
type Marker struct {
	Size     []any   `json:"size,omitempty"`
	SizeMode string  `json:"sizemode,omitempty"`
	SizeRef  float64 `json:"sizeref,omitempty"`
}

// Text is a plotly title object
type Text struct {
	Text string `json:"text"`
}

// Axis is a plotly axis
type Axis struct {
	Title *Text `json:"title,omitempty"`
}

// Legend is a plotly legend
type Legend struct {
	Title *Text `json:"title,omitempty"`
}

// Layout is the subset of plotly layout attributes the builders set
type Layout struct {
	Title      *Text   `json:"title,omitempty"`
	XAxis      *Axis   `json:"xaxis,omitempty"`
	YAxis      *Axis   `json:"yaxis,omitempty"`
	BarMode    string  `json:"barmode,omitempty"`
	ShowLegend *bool   `json:"showlegend,omitempty"`
	Legend     *Legend `json:"legend,omitempty"`
	Template   string  `json:"template,omitempty"`
}

// SetTitle sets the figure title
func (f *Figure) SetTitle(title string) {
	if title == "" {
		f.Layout.Title = nil
		return
	}
	f.Layout.Title = &Text{Text: title}
}

// SetAxisTitles sets the x and y axis titles; empty strings leave them unset
func (f *Figure) SetAxisTitles(x, y string) {
	if x != "" {
		f.Layout.XAxis = &Axis{Title: &Text{Text: x}}
	}
	if y != "" {
		f.Layout.YAxis = &Axis{Title: &Text{Text: y}}
	}
}

// SetShowLegend toggles the legend
func (f *Figure) SetShowLegend(show bool) {
	f.Layout.ShowLegend = &show
}

// Title returns the layout title text
func (f *Figure) Title() string {
	if f.Layout.Title == nil {
		return ""
	}
	return f.Layout.Title.Text
}

// JSON marshals the figure
func (f *Figure) JSON() ([]byte, error) {
	return json.Marshal(f)
}

// Combine stacks the traces of several figures under one layout
func Combine(title string, figs ...*Figure) *Figure {
	out := &Figure{Data: []Trace{}}
	for _, f := range figs {
		if f == nil {
			continue
		}
		out.Data = append(out.Data, f.Data...)
		if out.Layout.XAxis == nil {
			out.Layout.XAxis = f.Layout.XAxis
		}
		if out.Layout.BarMode == "" {
			out.Layout.BarMode = f.Layout.BarMode
		}
	}
	out.SetTitle(title)
	return out
}

// plotValue converts a table cell into a JSON friendly plotly value
func plotValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case time.Time:
		return dataset.FormatValue(x)
	}
	return v
}

// ColumnValues returns a column as plotly values: dates as text, NaN as null
func ColumnValues(t *dataset.Table, name string) []any {
	out := make([]any, t.Len())
	for i := range out {
		out[i] = plotValue(t.Value(i, name))
	}
	return out
}
