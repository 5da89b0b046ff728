// Package analytics filters tables and reduces them to the aggregates the
// dashboards display.
package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizdash/dataset"
)

// ValidationError reports a filter or aggregation that does not fit the table
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid marks the error as a user input problem
func (e *ValidationError) Invalid() bool { return true }

// IsValidation reports whether err was caused by invalid user input, in
// this package or any other that marks its errors with Invalid() bool
func IsValidation(err error) bool {
	var v interface{ Invalid() bool }
	return errors.As(err, &v) && v.Invalid()
}

// PredicateKind selects how a Predicate matches
type PredicateKind string

const (
	KindDateRange   PredicateKind = "date_range"
	KindOneOf       PredicateKind = "one_of"
	KindNumberRange PredicateKind = "number_range"
	KindEquals      PredicateKind = "equals"
)

// Day is a calendar date that decodes from "2006-01-02" or RFC 3339
type Day struct{ time.Time }

// NewDay truncates t to its calendar date
func NewDay(t time.Time) Day {
	return Day{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format("2006-01-02"))
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			*d = NewDay(t)
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", s)
}

func dayKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Predicate restricts the rows of one column.
//
// OneOf with an empty Values list selects every row: an empty selection
// means "no restriction" on every page.
type Predicate struct {
	Column string        `json:"column"`
	Kind   PredicateKind `json:"kind"`
	From   *Day          `json:"from,omitempty"`
	To     *Day          `json:"to,omitempty"`
	Values []string      `json:"values,omitempty"`
	Min    *float64      `json:"min,omitempty"`
	Max    *float64      `json:"max,omitempty"`
	Value  string        `json:"value,omitempty"`
}

// DateRange matches dates between from and to inclusive, by calendar day
func DateRange(column string, from, to time.Time) Predicate {
	f, t := NewDay(from), NewDay(to)
	return Predicate{Column: column, Kind: KindDateRange, From: &f, To: &t}
}

// OneOf matches rows whose value is one of values
func OneOf(column string, values ...string) Predicate {
	return Predicate{Column: column, Kind: KindOneOf, Values: values}
}

// NumberRange matches numbers between min and max inclusive; nil bounds are open
func NumberRange(column string, min, max *float64) Predicate {
	return Predicate{Column: column, Kind: KindNumberRange, Min: min, Max: max}
}

// Equals matches rows whose value renders exactly as value
func Equals(column, value string) Predicate {
	return Predicate{Column: column, Kind: KindEquals, Value: value}
}

// Between is a helper for closed number ranges
func Between(column string, min, max float64) Predicate {
	return NumberRange(column, &min, &max)
}

func (p Predicate) validate(t *dataset.Table) error {
	col, ok := t.Column(p.Column)
	if !ok {
		return &ValidationError{Field: "filter", Reason: fmt.Sprintf("unknown column %q", p.Column)}
	}

	switch p.Kind {
	case KindDateRange:
		if col.Type != dataset.Date {
			return &ValidationError{Field: "filter", Reason: fmt.Sprintf("date range on %s column %q", col.Type, p.Column)}
		}
	case KindNumberRange:
		if col.Type != dataset.Number {
			return &ValidationError{Field: "filter", Reason: fmt.Sprintf("number range on %s column %q", col.Type, p.Column)}
		}
	case KindOneOf, KindEquals:
	default:
		return &ValidationError{Field: "filter", Reason: fmt.Sprintf("unknown predicate kind %q", p.Kind)}
	}
	return nil
}

// empty reports whether the predicate can match no row regardless of data
func (p Predicate) empty() bool {
	switch p.Kind {
	case KindDateRange:
		return p.From != nil && p.To != nil && dayKey(p.From.Time) > dayKey(p.To.Time)
	case KindNumberRange:
		return p.Min != nil && p.Max != nil && *p.Min > *p.Max
	}
	return false
}

func (p Predicate) match(r dataset.Row) bool {
	switch p.Kind {
	case KindDateRange:
		d := r.Time(p.Column)
		if d.IsZero() {
			return false
		}
		k := dayKey(d)
		if p.From != nil && k < dayKey(p.From.Time) {
			return false
		}
		if p.To != nil && k > dayKey(p.To.Time) {
			return false
		}
		return true
	case KindNumberRange:
		v := r.Number(p.Column)
		if v != v {
			return false
		}
		if p.Min != nil && v < *p.Min {
			return false
		}
		if p.Max != nil && v > *p.Max {
			return false
		}
		return true
	case KindOneOf:
		if len(p.Values) == 0 {
			return true
		}
		s := r.Str(p.Column)
		for _, v := range p.Values {
			if s == v {
				return true
			}
		}
		return false
	case KindEquals:
		return r.Str(p.Column) == p.Value
	}
	return false
}

func (p Predicate) String() string {
	switch p.Kind {
	case KindDateRange:
		var from, to string
		if p.From != nil {
			from = p.From.Format("2006-01-02")
		}
		if p.To != nil {
			to = p.To.Format("2006-01-02")
		}
		return fmt.Sprintf("%s in [%s, %s]", p.Column, from, to)
	case KindNumberRange:
		from, to := "-inf", "+inf"
		if p.Min != nil {
			from = fmt.Sprint(*p.Min)
		}
		if p.Max != nil {
			to = fmt.Sprint(*p.Max)
		}
		return fmt.Sprintf("%s in [%s, %s]", p.Column, from, to)
	case KindOneOf:
		if len(p.Values) == 0 {
			return p.Column + ": all"
		}
		return fmt.Sprintf("%s in {%s}", p.Column, strings.Join(p.Values, ", "))
	case KindEquals:
		return fmt.Sprintf("%s = %s", p.Column, p.Value)
	}
	return string(p.Kind)
}

// FilterSpec is the set of predicates a view applies; all must match
type FilterSpec struct {
	Predicates []Predicate `json:"predicates"`
}

// Validate checks every predicate against the table's columns
func (s FilterSpec) Validate(t *dataset.Table) error {
	for _, p := range s.Predicates {
		if err := p.validate(t); err != nil {
			return err
		}
	}
	return nil
}

// Describe renders the active predicates for the assistant context
func (s FilterSpec) Describe() string {
	if len(s.Predicates) == 0 {
		return "no filters"
	}
	parts := make([]string, len(s.Predicates))
	for i, p := range s.Predicates {
		parts[i] = p.String()
	}
	return strings.Join(parts, "; ")
}

// Apply returns the rows of t matching every predicate. An inverted range
// yields an empty table, not an error.
func Apply(t *dataset.Table, spec FilterSpec) (*dataset.Table, error) {
	if err := spec.Validate(t); err != nil {
		return nil, err
	}

	for _, p := range spec.Predicates {
		if p.empty() {
			return t.Subset(nil), nil
		}
	}

	keep := make([]int, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		matched := true
		for _, p := range spec.Predicates {
			if !p.match(r) {
				matched = false
				break
			}
		}
		if matched {
			keep = append(keep, i)
		}
	}
	return t.Subset(keep), nil
}
