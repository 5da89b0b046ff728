// Package chart maps tables and column bindings to plotly-compatible figure
// descriptions. Builders are pure: they never modify the input table.
package chart

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"bizdash/analytics"
)

// Kind names a chart type
type Kind string

const (
	Bar       Kind = "bar"
	Line      Kind = "line"
	Scatter   Kind = "scatter"
	Pie       Kind = "pie"
	Histogram Kind = "histogram"
	Box       Kind = "box"
)

// Kinds lists the supported chart kinds
func Kinds() []Kind {
	return []Kind{Bar, Line, Scatter, Pie, Histogram, Box}
}

func (k Kind) supported() bool {
	for _, s := range Kinds() {
		if k == s {
			return true
		}
	}
	return false
}

// ConfigurationError reports a chart description that cannot be built
type ConfigurationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("chart %q: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("chart %q: %s: %s", e.Kind, e.Field, e.Reason)
}

// Invalid marks the error as a user input problem
func (e *ConfigurationError) Invalid() bool { return true }

// StringList decodes from either a single string or a list of strings
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = splitOne(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected a column name or a list of column names: %w", err)
	}
	*l = many
	return nil
}

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = splitOne(node.Value)
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	return fmt.Errorf("line %d: expected a column name or a list of column names", node.Line)
}

func splitOne(s string) StringList {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return StringList{s}
}

// Inline carries literal data for charts that do not read a table
type Inline struct {
	X      []any     `json:"x,omitempty" yaml:"x,omitempty"`
	Y      []float64 `json:"y,omitempty" yaml:"y,omitempty"`
	Names  []string  `json:"names,omitempty" yaml:"names,omitempty"`
	Values []float64 `json:"values,omitempty" yaml:"values,omitempty"`
}

// Spec is a declarative chart description: a kind, column bindings and an
// optional aggregation applied before plotting.
type Spec struct {
	Kind    Kind              `json:"kind" yaml:"kind"`
	Title   string            `json:"title,omitempty" yaml:"title,omitempty"`
	Dataset string            `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	X       string            `json:"x,omitempty" yaml:"x,omitempty"`
	Y       StringList        `json:"y,omitempty" yaml:"y,omitempty"`
	Color   string            `json:"color,omitempty" yaml:"color,omitempty"`
	Size    string            `json:"size,omitempty" yaml:"size,omitempty"`
	Names   string            `json:"names,omitempty" yaml:"names,omitempty"`
	Values  string            `json:"values,omitempty" yaml:"values,omitempty"`
	Agg     analytics.Op      `json:"agg,omitempty" yaml:"agg,omitempty"`
	Bins    int               `json:"nbins,omitempty" yaml:"nbins,omitempty"`
	Hole    float64           `json:"hole,omitempty" yaml:"hole,omitempty"`
	BarMode string            `json:"barmode,omitempty" yaml:"barmode,omitempty"`
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Labels  map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Inline  *Inline           `json:"inline,omitempty" yaml:"inline,omitempty"`
}

// ParseSpec decodes a chart description written in YAML or JSON
func ParseSpec(text string) (Spec, error) {
	var s Spec
	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Spec{}, &ConfigurationError{Field: "spec", Reason: err.Error()}
	}
	s.Kind = Kind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
	if s.Agg != "" {
		op, err := analytics.ParseOp(string(s.Agg))
		if err != nil {
			return Spec{}, &ConfigurationError{Kind: s.Kind, Field: "agg", Reason: err.Error()}
		}
		s.Agg = op
	}
	return s, nil
}

func (s Spec) label(name string) string {
	if l, ok := s.Labels[name]; ok && l != "" {
		return l
	}
	return name
}

func (s Spec) confErr(field, format string, args ...any) error {
	return &ConfigurationError{Kind: s.Kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}
