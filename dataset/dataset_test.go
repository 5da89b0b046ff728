package dataset

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var fixedNow = time.Date(2024, time.June, 30, 15, 4, 5, 0, time.UTC)

func TestAppendRowTypeChecks(t *testing.T) {
	tbl := New(Column{"region", Category}, Column{"sales", Number})

	require.NoError(t, tbl.AppendRow("North", 10))
	require.NoError(t, tbl.AppendRow("South", 20.5))
	assert.Error(t, tbl.AppendRow("South"))
	assert.Error(t, tbl.AppendRow(3, 4))
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 10.0, tbl.Row(0).Number("sales"))
	assert.True(t, math.IsNaN(tbl.Row(0).Number("missing")))
}

func TestWithColumnDoesNotMutate(t *testing.T) {
	tbl := New(Column{"a", Number})
	require.NoError(t, tbl.AppendRow(2))

	derived, err := tbl.WithColumn(Column{"double", Number}, func(r Row) any {
		return r.Number("a") * 2
	})
	require.NoError(t, err)

	assert.False(t, tbl.Has("double"))
	assert.Equal(t, []string{"a"}, tbl.ColumnNames())
	assert.Equal(t, 4.0, derived.Row(0).Number("double"))

	_, err = tbl.WithColumn(Column{"a", Number}, func(Row) any { return 1.0 })
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	tbl := Sales(42, fixedNow)
	clone := tbl.Clone()
	require.Equal(t, tbl.Len(), clone.Len())

	clone.rows[0][1] = -1.0
	assert.NotEqual(t, -1.0, tbl.Row(0).Number("Vendas"))
}

func TestGeneratorsAreDeterministic(t *testing.T) {
	for kind := range generators {
		a, err := Generate(kind, 7, fixedNow)
		require.NoError(t, err)
		b, err := Generate(kind, 7, fixedNow)
		require.NoError(t, err)

		aj, err := a.MarshalJSON()
		require.NoError(t, err)
		bj, err := b.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, string(aj), string(bj), "kind %s", kind)
	}

	_, err := Generate("weather", 1, fixedNow)
	assert.Error(t, err)
}

func TestSalesDailyShape(t *testing.T) {
	tbl := SalesDaily(1, fixedNow)
	require.Equal(t, 365, tbl.Len())

	first, last, ok := tbl.DateRange("data")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC), last)
	assert.Equal(t, last.AddDate(0, 0, -364), first)

	for _, v := range tbl.Numbers("vendas") {
		assert.GreaterOrEqual(t, v, 0.0)
	}
	assert.Subset(t, []string{"Norte", "Nordeste", "Centro-Oeste", "Sudeste", "Sul"}, tbl.Unique("regiao"))
}

func TestGeneratorRanges(t *testing.T) {
	sales := Sales(42, fixedNow)
	assert.Equal(t, 100, sales.Len())
	lo, hi, ok := sales.NumberRange("Vendas")
	require.True(t, ok)
	assert.GreaterOrEqual(t, lo, 1000.0)
	assert.Less(t, hi, 10000.0)

	customers := Customers(42, fixedNow)
	assert.Equal(t, 1000, customers.Len())
	lo, hi, _ = customers.NumberRange("Satisfacao")
	assert.GreaterOrEqual(t, lo, 1.0)
	assert.LessOrEqual(t, hi, 5.0)
	assert.Subset(t, []string{"Bronze", "Prata", "Ouro", "Platina"}, customers.Unique("Segmento"))

	marketing := Marketing(42, fixedNow)
	assert.Equal(t, 30, marketing.Len())
	for i := 0; i < marketing.Len(); i++ {
		r := marketing.Row(i)
		assert.InDelta(t, r.Number("Cliques")/r.Number("Impressoes")*100, r.Number("CTR"), 1e-9)
	}
}

func TestFinanceDerivedColumns(t *testing.T) {
	tbl := Finance(42, fixedNow)
	require.Equal(t, 12, tbl.Len())

	for i := 0; i < tbl.Len(); i++ {
		r := tbl.Row(i)
		gross := r.Number("Receita") - r.Number("Custos")
		assert.InDelta(t, gross, r.Number("Lucro_Bruto"), 1e-6)
		net := gross - r.Number("Despesas_Operacionais") - r.Number("Impostos")
		assert.InDelta(t, net, r.Number("Lucro_Liquido"), 1e-6)
		assert.InDelta(t, net/r.Number("Receita")*100, r.Number("Margem_Liquida"), 1e-6)
		assert.Equal(t, time.Month(i+1), r.Time("Data").Month())
	}
}

func TestProductsStockStatus(t *testing.T) {
	tbl := Products(42, fixedNow)
	for i := 0; i < tbl.Len(); i++ {
		r := tbl.Row(i)
		assert.Equal(t, StockStatus(r.Number("Estoque")), r.Str("Status_Estoque"))
		stock := math.Max(r.Number("Estoque"), 1)
		assert.InDelta(t, r.Number("Vendas_Mes")/stock, r.Number("Rotatividade"), 1e-9)
	}
	assert.Equal(t, "Baixo", StockStatus(9))
	assert.Equal(t, "Médio", StockStatus(10))
	assert.Equal(t, "Alto", StockStatus(30))
}

func TestTableJSONRoundTrip(t *testing.T) {
	tbl := Marketing(3, fixedNow)
	data, err := tbl.MarshalJSON()
	require.NoError(t, err)

	var decoded Table
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, tbl.Columns(), decoded.Columns())
	assert.Equal(t, tbl.Len(), decoded.Len())
	assert.True(t, tbl.Row(5).Time("Data").Equal(decoded.Row(5).Time("Data")))
	assert.Equal(t, tbl.Row(5).Number("ROI"), decoded.Row(5).Number("ROI"))
}

func TestDescribe(t *testing.T) {
	tbl := New(Column{"x", Number}, Column{"label", String})
	for _, v := range []float64{1, 2, 3, 4} {
		require.NoError(t, tbl.AppendRow(v, "a"))
	}
	require.NoError(t, tbl.AppendRow(math.NaN(), "b"))

	summaries := tbl.Describe()
	require.Len(t, summaries, 1)
	s := summaries[0]
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 2.5, s.Mean)
	assert.InDelta(t, 1.2910, s.Std, 1e-4)
	assert.Equal(t, 1.75, s.P25)
	assert.Equal(t, 2.5, s.P50)
	assert.Equal(t, 3.25, s.P75)

	assert.Contains(t, tbl.DescribeText(), "mean")
	assert.Contains(t, tbl.Text(2), "(3 more rows)")
}

func TestLoadCSV(t *testing.T) {
	csvData := "region,sales,day\nNorth,10,2024-01-01\nSouth,20.5,2024-01-02\nSouth,,2024-01-03\n"
	tbl, err := Load("data.csv", strings.NewReader(csvData))
	require.NoError(t, err)

	assert.Equal(t, []Column{{"region", String}, {"sales", Number}, {"day", Date}}, tbl.Columns())
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, 20.5, tbl.Row(1).Number("sales"))
	assert.True(t, math.IsNaN(tbl.Row(2).Number("sales")))
	assert.Equal(t, time.January, tbl.Row(0).Time("day").Month())
}

func TestLoadTabSeparated(t *testing.T) {
	for _, name := range []string{"data.tsv", "DATA.TXT"} {
		tbl, err := Load(name, strings.NewReader("a\tb\n1\tx\n2\ty\n"))
		require.NoError(t, err, name)
		assert.Equal(t, []string{"a", "b"}, tbl.ColumnNames())
		assert.Equal(t, 2, tbl.Len())
	}
}

func TestLoadWindows1252(t *testing.T) {
	encoded, err := charmap.Windows1252.NewEncoder().String("cidade,valor\nSão Paulo,1\nBrasília,2\n")
	require.NoError(t, err)

	tbl, err := Load("latin.csv", strings.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, []string{"Brasília", "São Paulo"}, tbl.Unique("cidade"))
}

func TestLoadJSONRecords(t *testing.T) {
	data := `[{"name":"a","value":1,"ok":true},{"name":"b","value":2.5}]`
	tbl, err := Load("rows.json", strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "value", "ok"}, tbl.ColumnNames())
	assert.Equal(t, 2.5, tbl.Row(1).Number("value"))
	assert.Equal(t, "true", tbl.Row(0).Str("ok"))
	assert.Equal(t, "", tbl.Row(1).Str("ok"))
}

func TestLoadJSONColumns(t *testing.T) {
	data := `{"city":{"0":"Recife","1":"Natal","10":"Belém","2":"Maceió"},"pop":{"0":1.6,"1":0.9,"10":1.5,"2":1.0}}`
	tbl, err := Load("cols.json", strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"Recife", "Natal", "Maceió", "Belém"}, tbl.Strings("city"))
	assert.Equal(t, []float64{1.6, 0.9, 1.0, 1.5}, tbl.Numbers("pop"))

	tbl, err = Load("lists.json", strings.NewReader(`{"a":[1,2],"b":["x","y"]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
}

func TestLoadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"produto", "preco"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Caneta", 2.5}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"Caderno", 12}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	tbl, err := Load("planilha.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []Column{{"produto", String}, {"preco", Number}}, tbl.Columns())
	assert.Equal(t, 12.0, tbl.Row(1).Number("preco"))
}

func TestLoadUnsupportedFormat(t *testing.T) {
	tbl, err := Load("report.pdf", strings.NewReader("%PDF"))
	assert.Nil(t, tbl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ".pdf", fe.Ext)
	assert.Contains(t, err.Error(), ".xlsx")

	_, err = FormatOf("noext")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadDuplicateHeaders(t *testing.T) {
	tbl, err := Load("dup.csv", strings.NewReader("a,a,\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a.1", "Unnamed: 2"}, tbl.ColumnNames())

	tbl, err = Load("dup.csv", strings.NewReader("x.1,x,x\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x.1", "x", "x.2"}, tbl.ColumnNames())

	tbl, err = Load("dup.csv", strings.NewReader("a,a,a.1\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a.2", "a.1"}, tbl.ColumnNames())
}

func TestLoadMalformedReturnsNoTable(t *testing.T) {
	tbl, err := Load("bad.json", strings.NewReader(`[{"a":1},`))
	assert.Nil(t, tbl)
	assert.Error(t, err)
}
