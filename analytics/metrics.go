package analytics

import (
	"math"

	"bizdash/dataset"
)

// SafeDiv returns a/b, or 0 when b is 0
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// PercentChange is (current/baseline - 1) * 100, or 0 when baseline is 0
func PercentChange(current, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (current/baseline - 1) * 100
}

// Sum adds a Number column, skipping missing values
func Sum(t *dataset.Table, column string) float64 {
	var s float64
	for _, v := range t.Numbers(column) {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s
}

// Mean averages a Number column, 0 for an empty table
func Mean(t *dataset.Table, column string) float64 {
	var s float64
	var n int
	for _, v := range t.Numbers(column) {
		if !math.IsNaN(v) {
			s += v
			n++
		}
	}
	return SafeDiv(s, float64(n))
}

// Count returns the row count as a float for metric arithmetic
func Count(t *dataset.Table) float64 {
	return float64(t.Len())
}

// CountWhere counts rows whose column renders as value
func CountWhere(t *dataset.Table, column, value string) float64 {
	var n float64
	for i := 0; i < t.Len(); i++ {
		if t.Row(i).Str(column) == value {
			n++
		}
	}
	return n
}

// Comparison is a filtered figure next to its unfiltered baseline
type Comparison struct {
	Value     float64 `json:"value"`
	Baseline  float64 `json:"baseline"`
	ChangePct float64 `json:"change_pct"`
}

// Compare sums column over filtered and baseline and reports the change
func Compare(filtered, baseline *dataset.Table, column string) Comparison {
	return CompareValues(Sum(filtered, column), Sum(baseline, column))
}

// CompareValues wraps two precomputed figures
func CompareValues(value, baseline float64) Comparison {
	return Comparison{
		Value:     value,
		Baseline:  baseline,
		ChangePct: PercentChange(value, baseline),
	}
}
