package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdash/dataset"
)

func regionTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl := dataset.New(
		dataset.Column{Name: "region", Type: dataset.Category},
		dataset.Column{Name: "sales", Type: dataset.Number},
	)
	require.NoError(t, tbl.AppendRow("North", 10))
	require.NoError(t, tbl.AppendRow("South", 20))
	require.NoError(t, tbl.AppendRow("South", 5))
	return tbl
}

func dailyTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl := dataset.New(
		dataset.Column{Name: "day", Type: dataset.Date},
		dataset.Column{Name: "amount", Type: dataset.Number},
		dataset.Column{Name: "channel", Type: dataset.Category},
	)
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	channels := []string{"Online", "Loja Física", "Marketplace"}
	for i := 0; i < 10; i++ {
		require.NoError(t, tbl.AppendRow(start.AddDate(0, 0, i).Add(13*time.Hour), float64(i+1), channels[i%3]))
	}
	return tbl
}

func TestFilterThenAggregateByRegion(t *testing.T) {
	tbl := regionTable(t)

	filtered, err := Apply(tbl, FilterSpec{Predicates: []Predicate{Equals("region", "South")}})
	require.NoError(t, err)
	require.Equal(t, 2, filtered.Len())
	assert.Equal(t, []float64{20, 5}, filtered.Numbers("sales"))
	assert.Equal(t, []string{"South", "South"}, filtered.Strings("region"))

	agg, err := Aggregate(filtered, []string{"region"}, []Metric{{Column: "sales", Op: OpSum}})
	require.NoError(t, err)
	require.Equal(t, 1, agg.Len())
	assert.Equal(t, "South", agg.Row(0).Str("region"))
	assert.Equal(t, 25.0, agg.Row(0).Number("sales"))
}

func TestDateRangeIsInclusiveByDay(t *testing.T) {
	tbl := dailyTable(t)
	from := time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)

	filtered, err := Apply(tbl, FilterSpec{Predicates: []Predicate{DateRange("day", from, to)}})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5}, filtered.Numbers("amount"))
}

func TestInvertedDateRangeIsEmpty(t *testing.T) {
	tbl := dailyTable(t)
	from := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)

	filtered, err := Apply(tbl, FilterSpec{Predicates: []Predicate{DateRange("day", from, to)}})
	require.NoError(t, err)
	assert.Equal(t, 0, filtered.Len())
	assert.Equal(t, tbl.Columns(), filtered.Columns())
}

func TestEmptySelectionSelectsAll(t *testing.T) {
	tbl := dailyTable(t)

	filtered, err := Apply(tbl, FilterSpec{Predicates: []Predicate{OneOf("channel")}})
	require.NoError(t, err)
	assert.Equal(t, tbl.Len(), filtered.Len())

	filtered, err = Apply(tbl, FilterSpec{Predicates: []Predicate{OneOf("channel", "Online", "Marketplace")}})
	require.NoError(t, err)
	assert.Equal(t, 7, filtered.Len())
}

func TestNumberRange(t *testing.T) {
	tbl := dailyTable(t)

	filtered, err := Apply(tbl, FilterSpec{Predicates: []Predicate{Between("amount", 2, 4)}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, filtered.Numbers("amount"))

	min := 9.0
	filtered, err = Apply(tbl, FilterSpec{Predicates: []Predicate{NumberRange("amount", &min, nil)}})
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 10}, filtered.Numbers("amount"))

	filtered, err = Apply(tbl, FilterSpec{Predicates: []Predicate{Between("amount", 4, 2)}})
	require.NoError(t, err)
	assert.Equal(t, 0, filtered.Len())
}

func TestFilterValidation(t *testing.T) {
	tbl := dailyTable(t)

	cases := []Predicate{
		Equals("missing", "x"),
		DateRange("amount", time.Now(), time.Now()),
		Between("channel", 0, 1),
		{Column: "channel", Kind: "regex"},
	}
	for _, p := range cases {
		filtered, err := Apply(tbl, FilterSpec{Predicates: []Predicate{p}})
		assert.Nil(t, filtered)
		require.Error(t, err)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.True(t, IsValidation(err))
	}
}

func TestFilterSpecJSON(t *testing.T) {
	raw := `{"predicates":[
		{"column":"day","kind":"date_range","from":"2024-01-02","to":"2024-01-04T10:00:00Z"},
		{"column":"channel","kind":"one_of","values":["Online"]}
	]}`
	var spec FilterSpec
	require.NoError(t, json.Unmarshal([]byte(raw), &spec))

	filtered, err := Apply(dailyTable(t), spec)
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, filtered.Numbers("amount"))
	assert.Equal(t, "day in [2024-01-02, 2024-01-04]; channel in {Online}", spec.Describe())
}

func TestAggregateSortedAndMultipleMetrics(t *testing.T) {
	tbl := dailyTable(t)

	agg, err := Aggregate(tbl, []string{"channel"}, []Metric{
		{Column: "amount", Op: OpSum},
		{Column: "amount", Op: OpMean, As: "avg"},
		{Op: OpCount},
		{Column: "amount", Op: OpMax, As: "top"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Loja Física", "Marketplace", "Online"}, agg.Strings("channel"))
	assert.Equal(t, []float64{2 + 5 + 8, 3 + 6 + 9, 1 + 4 + 7 + 10}, agg.Numbers("amount"))
	assert.Equal(t, []float64{5, 6, 5.5}, agg.Numbers("avg"))
	assert.Equal(t, []float64{3, 3, 4}, agg.Numbers("count"))
	assert.Equal(t, []float64{8, 9, 10}, agg.Numbers("top"))
}

func TestAggregateByDateIsChronological(t *testing.T) {
	tbl := dailyTable(t)
	agg, err := Aggregate(tbl, []string{"day"}, []Metric{{Column: "amount", Op: OpSum}})
	require.NoError(t, err)
	require.Equal(t, 10, agg.Len())
	assert.True(t, agg.Row(0).Time("day").Before(agg.Row(9).Time("day")))
}

func TestAggregateEmptyTable(t *testing.T) {
	empty := dailyTable(t).Subset(nil)

	agg, err := Aggregate(empty, nil, []Metric{{Column: "amount", Op: OpMean}, {Op: OpCount}})
	require.NoError(t, err)
	require.Equal(t, 1, agg.Len())
	assert.Equal(t, 0.0, agg.Row(0).Number("amount"))
	assert.Equal(t, 0.0, agg.Row(0).Number("count"))

	agg, err = Aggregate(empty, []string{"channel"}, []Metric{{Column: "amount", Op: OpSum}})
	require.NoError(t, err)
	assert.Equal(t, 0, agg.Len())
}

func TestAggregateValidation(t *testing.T) {
	tbl := dailyTable(t)

	_, err := Aggregate(tbl, []string{"nope"}, []Metric{{Column: "amount", Op: OpSum}})
	assert.True(t, IsValidation(err))
	_, err = Aggregate(tbl, []string{"channel"}, []Metric{{Column: "channel", Op: OpSum}})
	assert.True(t, IsValidation(err))
	_, err = Aggregate(tbl, []string{"channel"}, []Metric{{Column: "amount", Op: "median"}})
	assert.True(t, IsValidation(err))
	_, err = Aggregate(tbl, []string{"channel"}, nil)
	assert.True(t, IsValidation(err))
}

func TestSafeRatiosAndChange(t *testing.T) {
	assert.Equal(t, 0.0, SafeDiv(10, 0))
	assert.Equal(t, 2.5, SafeDiv(5, 2))
	assert.Equal(t, 0.0, PercentChange(100, 0))
	assert.InDelta(t, 25.0, PercentChange(125, 100), 1e-9)
	assert.InDelta(t, -50.0, PercentChange(50, 100), 1e-9)

	tbl := regionTable(t)
	south, err := Apply(tbl, FilterSpec{Predicates: []Predicate{OneOf("region", "South")}})
	require.NoError(t, err)
	cmp := Compare(south, tbl, "sales")
	assert.Equal(t, 25.0, cmp.Value)
	assert.Equal(t, 35.0, cmp.Baseline)
	assert.InDelta(t, (25.0/35.0-1)*100, cmp.ChangePct, 1e-9)

	assert.Equal(t, 2.0, CountWhere(tbl, "region", "South"))
	assert.Equal(t, 0.0, Mean(tbl.Subset(nil), "sales"))
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp(" AVG ")
	require.NoError(t, err)
	assert.Equal(t, OpMean, op)
	_, err = ParseOp("median")
	assert.True(t, IsValidation(err))
}
