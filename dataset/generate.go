package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Kind names a synthetic dataset
type Kind string

const (
	KindSalesDaily Kind = "sales_daily"
	KindSales      Kind = "sales"
	KindCustomers  Kind = "customers"
	KindFinance    Kind = "finance"
	KindProducts   Kind = "products"
	KindMarketing  Kind = "marketing"
)

// Generator builds a dataset from a seed and the current time
type Generator func(seed int64, now time.Time) *Table

var generators = map[Kind]Generator{
	KindSalesDaily: SalesDaily,
	KindSales:      Sales,
	KindCustomers:  Customers,
	KindFinance:    Finance,
	KindProducts:   Products,
	KindMarketing:  Marketing,
}

// Generate builds the dataset of the given kind
func Generate(kind Kind, seed int64, now time.Time) (*Table, error) {
	gen, ok := generators[kind]
	if !ok {
		return nil, fmt.Errorf("unknown dataset kind %q", kind)
	}
	return gen(seed, now), nil
}

type sampler struct{ r *rand.Rand }

func newSampler(seed int64) sampler {
	return sampler{r: rand.New(rand.NewSource(seed))}
}

// normal draws from N(mean, sd) clipped at zero
func (s sampler) normal(mean, sd float64) float64 {
	return math.Max(0, s.r.NormFloat64()*sd+mean)
}

// uniform draws from [lo, hi)
func (s sampler) uniform(lo, hi float64) float64 {
	return lo + s.r.Float64()*(hi-lo)
}

// intn draws an integer in [lo, hi)
func (s sampler) intn(lo, hi int) float64 {
	return float64(lo + s.r.Intn(hi-lo))
}

func (s sampler) choice(options []string) string {
	return options[s.r.Intn(len(options))]
}

func (s sampler) weighted(options []string, weights []float64) string {
	x := s.r.Float64()
	var acc float64
	for i, w := range weights {
		acc += w
		if x < acc {
			return options[i]
		}
	}
	return options[len(options)-1]
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// SalesDaily is the overview dataset: one row per day for the last year
func SalesDaily(seed int64, now time.Time) *Table {
	s := newSampler(seed)
	t := New(
		Column{"data", Date},
		Column{"vendas", Number},
		Column{"clientes", Number},
		Column{"receita", Number},
		Column{"regiao", Category},
		Column{"categoria", Category},
	)

	regions := []string{"Norte", "Nordeste", "Centro-Oeste", "Sudeste", "Sul"}
	categories := []string{"Eletrônicos", "Vestuário", "Alimentos", "Móveis", "Outros"}
	end := day(now.Year(), now.Month(), now.Day())
	start := end.AddDate(0, 0, -364)
	for i := 0; i < 365; i++ {
		t.mustAppend(
			start.AddDate(0, 0, i),
			s.normal(1000, 200),
			s.normal(50, 10),
			s.normal(50000, 10000),
			s.choice(regions),
			s.choice(categories),
		)
	}
	return t
}

// Sales is the sales dashboard dataset: 100 days from 2024-01-01
func Sales(seed int64, _ time.Time) *Table {
	s := newSampler(seed)
	t := New(
		Column{"Data", Date},
		Column{"Vendas", Number},
		Column{"Categoria", Category},
		Column{"Região", Category},
		Column{"Canal", Category},
	)

	categories := []string{"Eletrônicos", "Vestuário", "Alimentos", "Móveis"}
	regions := []string{"Norte", "Sul", "Leste", "Oeste"}
	channels := []string{"Online", "Loja Física", "Marketplace"}
	start := day(2024, time.January, 1)
	for i := 0; i < 100; i++ {
		t.mustAppend(
			start.AddDate(0, 0, i),
			s.intn(1000, 10000),
			s.choice(categories),
			s.choice(regions),
			s.choice(channels),
		)
	}
	return t
}

// Customers is the customer dashboard dataset: 1000 customers
func Customers(seed int64, _ time.Time) *Table {
	s := newSampler(seed)
	t := New(
		Column{"ID_Cliente", Number},
		Column{"Idade", Number},
		Column{"Valor_Total_Compras", Number},
		Column{"Frequencia_Compras", Number},
		Column{"Ultima_Compra", Date},
		Column{"Segmento", Category},
		Column{"Cidade", Category},
		Column{"Satisfacao", Number},
	)

	segments := []string{"Bronze", "Prata", "Ouro", "Platina"}
	weights := []float64{0.4, 0.3, 0.2, 0.1}
	cities := []string{"São Paulo", "Rio de Janeiro", "Belo Horizonte", "Salvador", "Brasília"}
	start := day(2023, time.January, 1)
	for i := 0; i < 1000; i++ {
		t.mustAppend(
			float64(i+1),
			s.intn(18, 80),
			s.uniform(100, 10000),
			s.intn(1, 50),
			start.AddDate(0, 0, i),
			s.weighted(segments, weights),
			s.choice(cities),
			s.intn(1, 6),
		)
	}
	return t
}

// Finance is the finance dashboard dataset: twelve months of 2024 with
// profit and margin columns derived from the raw figures
func Finance(seed int64, _ time.Time) *Table {
	s := newSampler(seed)
	t := New(
		Column{"Data", Date},
		Column{"Receita", Number},
		Column{"Custos", Number},
		Column{"Despesas_Operacionais", Number},
		Column{"Investimentos", Number},
		Column{"Impostos", Number},
	)

	start := day(2024, time.January, 1)
	for i := 0; i < 12; i++ {
		t.mustAppend(
			start.AddDate(0, i, 0),
			s.uniform(100000, 500000),
			s.uniform(50000, 200000),
			s.uniform(20000, 100000),
			s.uniform(10000, 50000),
			s.uniform(10000, 80000),
		)
	}

	t = t.mustWithColumn(Column{"Lucro_Bruto", Number}, func(r Row) any {
		return r.Number("Receita") - r.Number("Custos")
	})
	t = t.mustWithColumn(Column{"Lucro_Liquido", Number}, func(r Row) any {
		return r.Number("Lucro_Bruto") - r.Number("Despesas_Operacionais") - r.Number("Impostos")
	})
	t = t.mustWithColumn(Column{"Margem_Bruta", Number}, func(r Row) any {
		return ratio(r.Number("Lucro_Bruto"), r.Number("Receita")) * 100
	})
	t = t.mustWithColumn(Column{"Margem_Liquida", Number}, func(r Row) any {
		return ratio(r.Number("Lucro_Liquido"), r.Number("Receita")) * 100
	})
	return t
}

// Products is the product dashboard dataset: 100 products with stock value,
// turnover and a stock status bucket
func Products(seed int64, _ time.Time) *Table {
	s := newSampler(seed)
	t := New(
		Column{"ID_Produto", Number},
		Column{"Nome", String},
		Column{"Categoria", Category},
		Column{"Preco", Number},
		Column{"Estoque", Number},
		Column{"Vendas_Mes", Number},
		Column{"Avaliacao", Number},
		Column{"Fornecedor", Category},
	)

	categories := []string{"Eletrônicos", "Vestuário", "Alimentos", "Móveis", "Livros"}
	suppliers := []string{"Fornecedor A", "Fornecedor B", "Fornecedor C"}
	for i := 1; i <= 100; i++ {
		t.mustAppend(
			float64(i),
			fmt.Sprintf("Produto %d", i),
			s.choice(categories),
			s.uniform(10, 1000),
			s.intn(0, 100),
			s.intn(0, 50),
			s.uniform(1, 5),
			s.choice(suppliers),
		)
	}

	t = t.mustWithColumn(Column{"Valor_Estoque", Number}, func(r Row) any {
		return r.Number("Preco") * r.Number("Estoque")
	})
	t = t.mustWithColumn(Column{"Rotatividade", Number}, func(r Row) any {
		stock := r.Number("Estoque")
		if stock == 0 {
			stock = 1
		}
		return r.Number("Vendas_Mes") / stock
	})
	t = t.mustWithColumn(Column{"Status_Estoque", Category}, func(r Row) any {
		return StockStatus(r.Number("Estoque"))
	})
	return t
}

// StockStatus buckets a stock level
func StockStatus(stock float64) string {
	switch {
	case stock < 10:
		return "Baixo"
	case stock < 30:
		return "Médio"
	default:
		return "Alto"
	}
}

// Marketing is the marketing dashboard dataset: 30 days of campaign results
// with CTR, CPA and ROI
func Marketing(seed int64, _ time.Time) *Table {
	s := newSampler(seed)
	t := New(
		Column{"Data", Date},
		Column{"Canal", Category},
		Column{"Impressoes", Number},
		Column{"Cliques", Number},
		Column{"Conversoes", Number},
		Column{"Custo", Number},
		Column{"Valor_Conversao", Number},
	)

	channels := []string{"Facebook", "Instagram", "Google Ads", "Email", "LinkedIn"}
	start := day(2024, time.January, 1)
	for i := 0; i < 30; i++ {
		t.mustAppend(
			start.AddDate(0, 0, i),
			s.choice(channels),
			s.intn(1000, 100000),
			s.intn(100, 10000),
			s.intn(10, 1000),
			s.uniform(100, 5000),
			s.uniform(50, 500),
		)
	}

	t = t.mustWithColumn(Column{"CTR", Number}, func(r Row) any {
		return ratio(r.Number("Cliques"), r.Number("Impressoes")) * 100
	})
	t = t.mustWithColumn(Column{"CPA", Number}, func(r Row) any {
		return ratio(r.Number("Custo"), r.Number("Conversoes"))
	})
	t = t.mustWithColumn(Column{"ROI", Number}, func(r Row) any {
		cost := r.Number("Custo")
		return ratio(r.Number("Valor_Conversao")*r.Number("Conversoes")-cost, cost) * 100
	})
	return t
}
