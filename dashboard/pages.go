package dashboard

import (
	"bizdash/analytics"
	"bizdash/chart"
	"bizdash/dataset"
	"bizdash/utils"
)

// Page IDs
const (
	PageSalesOverview = "sales-overview"
	PageSales         = "sales"
	PageCustomers     = "customers"
	PageFinance       = "finance"
	PageProducts      = "products"
	PageMarketing     = "marketing"
	PageFiles         = "files"
)

// Pages lists every dashboard in menu order
func Pages() []*Page {
	return []*Page{
		salesOverviewPage(),
		salesPage(),
		customersPage(),
		financePage(),
		productsPage(),
		marketingPage(),
		filesPage(),
	}
}

func sumOf(col string) func(*dataset.Table) float64 {
	return func(t *dataset.Table) float64 { return analytics.Sum(t, col) }
}

func meanOf(col string) func(*dataset.Table) float64 {
	return func(t *dataset.Table) float64 { return analytics.Mean(t, col) }
}

func integer(v float64) string { return utils.FormatNumber(v, 0) }

func oneDecimal(v float64) string { return utils.FormatNumber(v, 1) }

// fromSpec builds a chart from a declarative spec, then applies layout tweaks
func fromSpec(s chart.Spec, tweaks ...func(*chart.Figure)) func(*dataset.Table) (*chart.Figure, error) {
	return func(t *dataset.Table) (*chart.Figure, error) {
		fig, err := chart.Build(t, s)
		if err != nil {
			return nil, err
		}
		for _, tw := range tweaks {
			tw(fig)
		}
		return fig, nil
	}
}

func legendTitle(title string) func(*chart.Figure) {
	return func(f *chart.Figure) {
		f.Layout.Legend = &chart.Legend{Title: &chart.Text{Text: title}}
	}
}

func salesOverviewPage() *Page {
	ticket := func(t *dataset.Table) float64 {
		return analytics.SafeDiv(analytics.Sum(t, "receita"), analytics.Sum(t, "vendas"))
	}
	return &Page{
		ID:          PageSalesOverview,
		Title:       "Dashboard de Análise de Vendas",
		Description: "Daily sales, customers and revenue for the last twelve months",
		Dataset:     dataset.KindSalesDaily,
		controls: []controlDef{
			{ControlDateRange, "data", "Período"},
			{ControlSelect, "regiao", "Região"},
			{ControlSelect, "categoria", "Categoria"},
		},
		metrics: []metricDef{
			{"Total de Vendas", sumOf("vendas"), integer, true},
			{"Total de Clientes", sumOf("clientes"), integer, true},
			{"Receita Total", sumOf("receita"), utils.FormatCurrency, true},
			{"Ticket Médio", ticket, utils.FormatCurrency, true},
		},
		charts: []chartDef{
			{"vendas-por-regiao", fromSpec(chart.Spec{
				Kind: chart.Bar, Title: "Vendas por Região", X: "regiao", Y: chart.StringList{"vendas"},
				Color: "regiao", Agg: analytics.OpSum,
				Labels: map[string]string{"regiao": "Região", "vendas": "Vendas"},
			})},
			{"vendas-por-categoria", fromSpec(chart.Spec{
				Kind: chart.Pie, Title: "Distribuição de Vendas por Categoria", Names: "categoria", Values: "vendas",
			})},
			{"evolucao", fromSpec(chart.Spec{
				Kind: chart.Line, Title: "Evolução das Métricas ao Longo do Tempo", X: "data",
				Y: chart.StringList{"vendas", "clientes", "receita"}, Agg: analytics.OpSum,
				Labels: map[string]string{"data": "Data", "value": "Valor"},
			}, legendTitle("Métricas"))},
		},
		sections: []section{
			{"Vendas por região", "regiao", []analytics.Metric{{Column: "vendas", Op: analytics.OpSum}}},
			{"Vendas por categoria", "categoria", []analytics.Metric{{Column: "vendas", Op: analytics.OpSum}}},
		},
	}
}

// salesGrowth compares the second half of the rows with the first
func salesGrowth(t *dataset.Table) float64 {
	n := t.Len()
	if n < 2 {
		return 0
	}
	var first, second float64
	for i := 0; i < n; i++ {
		if i < n/2 {
			first += t.Row(i).Number("Vendas")
		} else {
			second += t.Row(i).Number("Vendas")
		}
	}
	return analytics.PercentChange(second, first)
}

func salesPage() *Page {
	return &Page{
		ID:          PageSales,
		Title:       "Dashboard de Vendas",
		Description: "Sales by category, region and channel",
		Dataset:     dataset.KindSales,
		controls: []controlDef{
			{ControlMultiSelect, "Categoria", "Categoria"},
			{ControlMultiSelect, "Região", "Região"},
			{ControlMultiSelect, "Canal", "Canal"},
		},
		metrics: []metricDef{
			{"Vendas Totais", sumOf("Vendas"), utils.FormatCurrency, true},
			{"Ticket Médio", meanOf("Vendas"), utils.FormatCurrency, true},
			{"Pedidos", analytics.Count, integer, true},
			{"Crescimento", salesGrowth, utils.FormatDelta, false},
		},
		charts: []chartDef{
			{"vendas-por-categoria", fromSpec(chart.Spec{
				Kind: chart.Bar, Title: "Vendas por Categoria", X: "Categoria", Y: chart.StringList{"Vendas"}, Agg: analytics.OpSum,
			})},
			{"vendas-por-regiao", fromSpec(chart.Spec{
				Kind: chart.Pie, Title: "Vendas por Região", Names: "Região", Values: "Vendas",
			})},
			{"evolucao-vendas", fromSpec(chart.Spec{
				Kind: chart.Line, Title: "Evolução das Vendas", X: "Data", Y: chart.StringList{"Vendas"}, Agg: analytics.OpSum,
			})},
		},
		sections: []section{
			{"Vendas por categoria", "Categoria", []analytics.Metric{{Column: "Vendas", Op: analytics.OpSum}}},
			{"Vendas por região", "Região", []analytics.Metric{{Column: "Vendas", Op: analytics.OpSum}}},
			{"Vendas por canal", "Canal", []analytics.Metric{{Column: "Vendas", Op: analytics.OpSum}, {Op: analytics.OpCount, As: "Pedidos"}}},
		},
	}
}

func customersPage() *Page {
	return &Page{
		ID:          PageCustomers,
		Title:       "Dashboard de Clientes",
		Description: "Customer segments, cities and satisfaction",
		Dataset:     dataset.KindCustomers,
		controls: []controlDef{
			{ControlMultiSelect, "Segmento", "Segmento"},
			{ControlMultiSelect, "Cidade", "Cidade"},
			{ControlNumberRange, "Satisfacao", "Satisfação"},
		},
		metrics: []metricDef{
			{"Total de Clientes", analytics.Count, integer, true},
			{"Ticket Médio", meanOf("Valor_Total_Compras"), utils.FormatCurrency, true},
			{"Satisfação Média", meanOf("Satisfacao"), oneDecimal, true},
			{"Frequência Média", meanOf("Frequencia_Compras"), oneDecimal, true},
		},
		charts: []chartDef{
			{"distribuicao-segmento", fromSpec(chart.Spec{
				Kind: chart.Pie, Title: "Distribuição por Segmento", Names: "Segmento", Hole: 0.4,
			})},
			{"distribuicao-idade", fromSpec(chart.Spec{
				Kind: chart.Histogram, Title: "Distribuição por Idade", X: "Idade", Color: "Segmento", Bins: 20,
			})},
			{"valor-frequencia", fromSpec(chart.Spec{
				Kind: chart.Scatter, Title: "Relação entre Valor e Frequência de Compras",
				X: "Frequencia_Compras", Y: chart.StringList{"Valor_Total_Compras"}, Color: "Segmento", Size: "Satisfacao",
			})},
		},
		sections: []section{
			{"Clientes por segmento", "Segmento", []analytics.Metric{
				{Op: analytics.OpCount, As: "Clientes"},
				{Column: "Valor_Total_Compras", Op: analytics.OpMean},
			}},
			{"Clientes por cidade", "Cidade", []analytics.Metric{
				{Op: analytics.OpCount, As: "Clientes"},
				{Column: "Satisfacao", Op: analytics.OpMean},
			}},
		},
	}
}

var expenseColumns = []struct{ column, label string }{
	{"Custos", "Custos"},
	{"Despesas_Operacionais", "Despesas Operacionais"},
	{"Impostos", "Impostos"},
	{"Investimentos", "Investimentos"},
}

func expenseComposition(t *dataset.Table) (*chart.Figure, error) {
	in := &chart.Inline{}
	for _, e := range expenseColumns {
		in.Names = append(in.Names, e.label)
		in.Values = append(in.Values, analytics.Sum(t, e.column))
	}
	return chart.Build(nil, chart.Spec{Kind: chart.Pie, Title: "Composição das Despesas", Hole: 0.4, Inline: in})
}

func financeROI(t *dataset.Table) float64 {
	return analytics.SafeDiv(analytics.Sum(t, "Lucro_Liquido"), analytics.Sum(t, "Investimentos")) * 100
}

func financePage() *Page {
	return &Page{
		ID:          PageFinance,
		Title:       "Dashboard Financeiro",
		Description: "Monthly revenue, costs, profit and margins",
		Dataset:     dataset.KindFinance,
		controls: []controlDef{
			{ControlMonthRange, "Data", "Período"},
		},
		metrics: []metricDef{
			{"Receita Total", sumOf("Receita"), utils.FormatCurrency, true},
			{"Lucro Líquido", sumOf("Lucro_Liquido"), utils.FormatCurrency, true},
			{"Margem Líquida", meanOf("Margem_Liquida"), utils.FormatPercent, true},
			{"ROI", financeROI, utils.FormatPercent, true},
		},
		charts: []chartDef{
			{"evolucao-financeira", fromSpec(chart.Spec{
				Kind: chart.Line, Title: "Evolução Financeira", X: "Data", Y: chart.StringList{"Receita", "Custos"},
			})},
			{"composicao-despesas", expenseComposition},
			{"analise-margens", fromSpec(chart.Spec{
				Kind: chart.Bar, Title: "Análise de Margens", X: "Data", Y: chart.StringList{"Margem_Bruta", "Margem_Liquida"},
				BarMode: "group",
				Labels:  map[string]string{"Margem_Bruta": "Margem Bruta", "Margem_Liquida": "Margem Líquida"},
			})},
		},
		sections: []section{
			{"Resultados mensais", "Data", []analytics.Metric{
				{Column: "Receita", Op: analytics.OpSum},
				{Column: "Lucro_Liquido", Op: analytics.OpSum},
				{Column: "Margem_Liquida", Op: analytics.OpMean},
			}},
		},
	}
}

func productsPage() *Page {
	lowStock := func(t *dataset.Table) float64 { return analytics.CountWhere(t, "Status_Estoque", "Baixo") }
	return &Page{
		ID:          PageProducts,
		Title:       "Dashboard de Produtos",
		Description: "Catalogue, stock levels and ratings",
		Dataset:     dataset.KindProducts,
		controls: []controlDef{
			{ControlMultiSelect, "Categoria", "Categoria"},
			{ControlMultiSelect, "Fornecedor", "Fornecedor"},
			{ControlMultiSelect, "Status_Estoque", "Status do Estoque"},
		},
		metrics: []metricDef{
			{"Total de Produtos", analytics.Count, integer, true},
			{"Valor em Estoque", sumOf("Valor_Estoque"), utils.FormatCurrency, true},
			{"Produtos com Estoque Baixo", lowStock, integer, true},
			{"Avaliação Média", meanOf("Avaliacao"), oneDecimal, true},
		},
		charts: []chartDef{
			{"produtos-por-categoria", fromSpec(chart.Spec{
				Kind: chart.Bar, Title: "Produtos por Categoria", X: "Categoria", Color: "Categoria",
			})},
			{"distribuicao-precos", fromSpec(chart.Spec{
				Kind: chart.Histogram, Title: "Distribuição de Preços", X: "Preco", Color: "Categoria", Bins: 20,
			})},
			{"preco-avaliacao", fromSpec(chart.Spec{
				Kind: chart.Scatter, Title: "Relação entre Preço e Avaliação",
				X: "Preco", Y: chart.StringList{"Avaliacao"}, Color: "Categoria", Size: "Vendas_Mes",
			})},
		},
		sections: []section{
			{"Produtos por categoria", "Categoria", []analytics.Metric{
				{Op: analytics.OpCount, As: "Produtos"},
				{Column: "Valor_Estoque", Op: analytics.OpSum},
			}},
			{"Produtos por status de estoque", "Status_Estoque", []analytics.Metric{
				{Op: analytics.OpCount, As: "Produtos"},
			}},
		},
	}
}

func marketingPage() *Page {
	return &Page{
		ID:          PageMarketing,
		Title:       "Dashboard de Marketing",
		Description: "Campaign reach, conversions, cost and return by channel",
		Dataset:     dataset.KindMarketing,
		controls: []controlDef{
			{ControlMultiSelect, "Canal", "Canal"},
			{ControlDateRange, "Data", "Período"},
		},
		metrics: []metricDef{
			{"Total Investido", sumOf("Custo"), utils.FormatCurrency, true},
			{"Conversões", sumOf("Conversoes"), integer, true},
			{"CPA Médio", meanOf("CPA"), utils.FormatCurrency, true},
			{"ROI Médio", meanOf("ROI"), utils.FormatPercent, true},
		},
		charts: []chartDef{
			{"desempenho-canal", fromSpec(chart.Spec{
				Kind: chart.Bar, Title: "Desempenho por Canal", X: "Canal",
				Y: chart.StringList{"Impressoes", "Cliques", "Conversoes"}, Agg: analytics.OpSum, BarMode: "group",
			})},
			{"roi-canal", fromSpec(chart.Spec{
				Kind: chart.Bar, Title: "ROI por Canal", X: "Canal", Y: chart.StringList{"ROI"}, Agg: analytics.OpMean,
			})},
			{"evolucao-metricas", fromSpec(chart.Spec{
				Kind: chart.Line, Title: "Evolução das Métricas", X: "Data", Y: chart.StringList{"CTR", "CPA", "ROI"},
			})},
		},
		sections: []section{
			{"Desempenho por canal", "Canal", []analytics.Metric{
				{Column: "Custo", Op: analytics.OpSum},
				{Column: "Conversoes", Op: analytics.OpSum},
				{Column: "ROI", Op: analytics.OpMean},
			}},
		},
	}
}
