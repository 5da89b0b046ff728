// Package dashboard describes the business dashboards: which dataset each
// page shows, the filter controls it offers, its headline metrics and its
// default charts, and the plain-text context handed to the assistant.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bizdash/analytics"
	"bizdash/chart"
	"bizdash/dataset"
	"bizdash/utils"
)

// ControlKind is the widget a UI renders for a filter control
type ControlKind string

const (
	ControlMultiSelect ControlKind = "multi_select"
	ControlSelect      ControlKind = "select"
	ControlDateRange   ControlKind = "date_range"
	ControlMonthRange  ControlKind = "month_range"
	ControlNumberRange ControlKind = "number_range"
)

// Control is one filter widget with the options the data allows
type Control struct {
	Kind    ControlKind `json:"kind"`
	Column  string      `json:"column"`
	Label   string      `json:"label"`
	Options []string    `json:"options,omitempty"`
	Min     any         `json:"min,omitempty"`
	Max     any         `json:"max,omitempty"`
}

// Metric is a headline number. Delta is the formatted change against the
// unfiltered data, empty when the page shows none.
type Metric struct {
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
	Delta   string  `json:"delta,omitempty"`
}

// Chart is a default figure of a page
type Chart struct {
	ID     string        `json:"id"`
	Figure *chart.Figure `json:"figure"`
}

// View is a page rendered for one filter selection
type View struct {
	Page         string               `json:"page"`
	Title        string               `json:"title"`
	Filters      analytics.FilterSpec `json:"filters"`
	Rows         int                  `json:"rows"`
	BaselineRows int                  `json:"baseline_rows"`
	Metrics      []Metric             `json:"metrics"`
	Charts       []Chart              `json:"charts"`
	Context      string               `json:"context"`
	Files        []FileSummary        `json:"files,omitempty"`

	// Filtered holds the rows behind the view
	Filtered *dataset.Table `json:"-"`
}

type controlDef struct {
	kind   ControlKind
	column string
	label  string
}

type metricDef struct {
	label  string
	value  func(t *dataset.Table) float64
	format func(float64) string
	delta  bool
}

type chartDef struct {
	id    string
	build func(t *dataset.Table) (*chart.Figure, error)
}

// section is an aggregate table included in the assistant context
type section struct {
	title   string
	groupBy string
	metrics []analytics.Metric
}

// Page is a dashboard definition
type Page struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Dataset     dataset.Kind `json:"dataset,omitempty"`

	controls []controlDef
	metrics  []metricDef
	charts   []chartDef
	sections []section
}

// ErrUploadsPage is returned by View for the page built from uploads; use
// FilesView instead
var ErrUploadsPage = errors.New("page is built from uploaded files")

// UnknownPageError names a page that does not exist
type UnknownPageError struct {
	ID string
}

func (e *UnknownPageError) Error() string {
	return fmt.Sprintf("unknown page %q", e.ID)
}

func (e *UnknownPageError) Invalid() bool { return true }

// Lookup returns the page with the given ID
func Lookup(id string) (*Page, error) {
	for _, p := range Pages() {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, &UnknownPageError{ID: id}
}

// Controls lists the page's filter controls with options taken from t
func (p *Page) Controls(t *dataset.Table) []Control {
	out := make([]Control, 0, len(p.controls))
	for _, c := range p.controls {
		ctl := Control{Kind: c.kind, Column: c.column, Label: c.label}
		switch c.kind {
		case ControlMultiSelect, ControlSelect:
			ctl.Options = t.Unique(c.column)
		case ControlDateRange:
			if first, last, ok := t.DateRange(c.column); ok {
				ctl.Min, ctl.Max = first.Format("2006-01-02"), last.Format("2006-01-02")
			}
		case ControlMonthRange:
			months := map[string]bool{}
			for i := 0; i < t.Len(); i++ {
				months[t.Row(i).Time(c.column).Format("2006-01")] = true
			}
			for m := range months {
				ctl.Options = append(ctl.Options, m)
			}
			sort.Strings(ctl.Options)
			if len(ctl.Options) > 0 {
				ctl.Min, ctl.Max = ctl.Options[0], ctl.Options[len(ctl.Options)-1]
			}
		case ControlNumberRange:
			if lo, hi, ok := t.NumberRange(c.column); ok {
				ctl.Min, ctl.Max = lo, hi
			}
		}
		out = append(out, ctl)
	}
	return out
}

// View filters base, computes metrics against the unfiltered rows, builds
// the default charts and the assistant context
func (p *Page) View(ctx context.Context, base *dataset.Table, spec analytics.FilterSpec) (*View, error) {
	if p.Dataset == "" {
		return nil, ErrUploadsPage
	}
	filtered, err := analytics.Apply(base, spec)
	if err != nil {
		return nil, err
	}

	v := &View{
		Page:         p.ID,
		Title:        p.Title,
		Filters:      spec,
		Rows:         filtered.Len(),
		BaselineRows: base.Len(),
		Filtered:     filtered,
	}
	for _, m := range p.metrics {
		v.Metrics = append(v.Metrics, m.compute(filtered, base))
	}

	charts, err := p.buildCharts(ctx, filtered)
	if err != nil {
		return nil, err
	}
	v.Charts = charts
	v.Context = p.context(filtered, spec, v.Metrics)
	return v, nil
}

func (m metricDef) compute(filtered, base *dataset.Table) Metric {
	value := m.value(filtered)
	out := Metric{Label: m.label, Value: value, Display: m.format(value)}
	if m.delta {
		out.Delta = utils.FormatDelta(analytics.PercentChange(value, m.value(base)))
	}
	return out
}

// buildCharts builds every default chart concurrently; results keep the
// page order
func (p *Page) buildCharts(ctx context.Context, t *dataset.Table) ([]Chart, error) {
	out := make([]Chart, len(p.charts))
	g, ctx := errgroup.WithContext(ctx)
	for i, def := range p.charts {
		i, def := i, def
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fig, err := def.build(t)
			if err != nil {
				return fmt.Errorf("failed to build chart %s: %w", def.id, err)
			}
			out[i] = Chart{ID: def.id, Figure: fig}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Page) context(t *dataset.Table, spec analytics.FilterSpec, metrics []Metric) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s data (%s rows; filters: %s):\n", p.Title, utils.FormatNumber(float64(t.Len()), 0), spec.Describe())
	for _, m := range metrics {
		fmt.Fprintf(&sb, "- %s: %s\n", m.Label, m.Display)
	}
	for _, s := range p.sections {
		agg, err := analytics.Aggregate(t, []string{s.groupBy}, s.metrics)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "\n%s:\n%s", s.title, agg.Text(0))
	}
	return sb.String()
}

// MonthRange turns a month_range selection ("2024-01" to "2024-03") into a
// date predicate covering every day of both months
func MonthRange(column, from, to string) (analytics.Predicate, error) {
	start, err := time.Parse("2006-01", from)
	if err != nil {
		return analytics.Predicate{}, &analytics.ValidationError{Field: column, Reason: fmt.Sprintf("invalid month %q", from)}
	}
	end, err := time.Parse("2006-01", to)
	if err != nil {
		return analytics.Predicate{}, &analytics.ValidationError{Field: column, Reason: fmt.Sprintf("invalid month %q", to)}
	}
	return analytics.DateRange(column, start, end.AddDate(0, 1, -1)), nil
}
