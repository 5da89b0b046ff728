package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdash/analytics"
	"bizdash/assistant"
	"bizdash/chart"
	"bizdash/dashboard"
	"bizdash/db"
	"bizdash/llm"
	"bizdash/utils"
)

type fakeProvider struct {
	err     error
	reply   string
	lastMsg []llm.Message
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
	f.lastMsg = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.reply, Model: "fake-1"}, nil
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Models() []string      { return []string{"fake-1"} }
func (f *fakeProvider) ValidateConfig() error { return nil }

var fixedNow = time.Date(2024, 6, 30, 14, 5, 0, 0, time.UTC)

func newStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.New(":memory:", db.Limits{MaxConversation: 100, MaxSavedCode: 20, MaxPlots: 20, MaxUploads: 3})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newManager(t *testing.T, p llm.Provider, data utils.DataConfig) *Manager {
	t.Helper()
	bridge := assistant.NewBridge(p, utils.ChatConfig{MaxRetries: 1, RetryBaseDelayMS: 1, RequestTimeoutSecs: 5}, utils.PrivacyConfig{}, nil)
	return NewManager(newStore(t), bridge, data, nil, WithClock(func() time.Time { return fixedNow }))
}

func TestCreateRejectsUnknownPage(t *testing.T) {
	m := newManager(t, &fakeProvider{}, utils.DataConfig{})
	_, err := m.Create("nope", 1)
	assert.True(t, analytics.IsValidation(err))
}

func TestSessionsOwnTheirData(t *testing.T) {
	m := newManager(t, &fakeProvider{}, utils.DataConfig{})
	a, err := m.Create(dashboard.PageSalesOverview, 7)
	require.NoError(t, err)
	b, err := m.Create(dashboard.PageSalesOverview, 7)
	require.NoError(t, err)

	assert.NotSame(t, a.base, b.base)
	assert.Equal(t, a.base.Len(), b.base.Len())
	assert.Equal(t, a.base.Numbers("vendas"), b.base.Numbers("vendas"))

	spec := analytics.FilterSpec{Predicates: []analytics.Predicate{analytics.Equals("regiao", "Sul")}}
	v, err := a.View(context.Background(), spec)
	require.NoError(t, err)
	assert.Less(t, v.Rows, v.BaselineRows)
	assert.Equal(t, spec, a.Filters())
	assert.Empty(t, b.Filters().Predicates)
	assert.NotEmpty(t, a.Controls())

	assert.Len(t, m.List(), 2)
}

func TestChatStoresTurnsAndPlots(t *testing.T) {
	p := &fakeProvider{reply: "Veja:\n```python\nfig = px.bar(df_filtered, x='regiao', y='vendas')\n```\n" +
		"E também:\n```python\nfig = px.bar(df_filtered, x='cidade', y='vendas')\n```"}
	m := newManager(t, p, utils.DataConfig{})
	s, err := m.Create(dashboard.PageSalesOverview, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeed, s.Info().Seed)

	res, err := s.Chat(context.Background(), "Quais regiões vendem mais?")
	require.NoError(t, err)
	assert.False(t, res.Failed)
	require.Len(t, res.Plots, 1)
	assert.Equal(t, db.OriginAssistant, res.Plots[0].Origin)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Contains(t, res.Errors[0].Error, "cidade")

	last := p.lastMsg[len(p.lastMsg)-1].Content
	assert.True(t, strings.HasPrefix(last, "Context:\nDashboard de Análise de Vendas data"))
	assert.True(t, strings.HasSuffix(last, "Question: Quais regiões vendem mais?"))

	conv, err := s.Conversation()
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, llm.RoleUser, conv[0].Role)
	assert.Equal(t, p.reply, conv[1].Content)

	plots, err := s.Plots()
	require.NoError(t, err)
	assert.Len(t, plots, 1)
}

func TestChatFailureGrowsLogByTwo(t *testing.T) {
	p := &fakeProvider{err: &llm.StatusError{StatusCode: 401, Body: "invalid key"}}
	m := newManager(t, p, utils.DataConfig{})
	s, err := m.Create(dashboard.PageSales, 1)
	require.NoError(t, err)

	_, err = m.Store().AppendTurns(s.ID(),
		db.Turn{Role: llm.RoleUser, Content: "oi"},
		db.Turn{Role: llm.RoleAssistant, Content: "olá"},
		db.Turn{Role: llm.RoleUser, Content: "tudo bem?"},
	)
	require.NoError(t, err)

	res, err := s.Chat(context.Background(), "Qual o ticket médio?")
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.NotEmpty(t, res.Reply)
	assert.True(t, strings.HasPrefix(res.Reply, "Sorry, an error occurred while processing the question: "))
	var ese *assistant.ExternalServiceError
	assert.True(t, errors.As(res.Err, &ese))
	assert.Empty(t, res.Plots)

	require.Len(t, p.lastMsg, 5)

	conv, err := s.Conversation()
	require.NoError(t, err)
	require.Len(t, conv, 5)
	assert.Equal(t, "Qual o ticket médio?", conv[3].Content)
	assert.Equal(t, llm.RoleAssistant, conv[4].Role)
	assert.True(t, conv[4].IsError)
	assert.Equal(t, res.Reply, conv[4].Content)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	m := newManager(t, &fakeProvider{}, utils.DataConfig{})
	s, err := m.Create(dashboard.PageSales, 1)
	require.NoError(t, err)

	_, err = s.Chat(context.Background(), "   ")
	assert.True(t, analytics.IsValidation(err))
	conv, err := s.Conversation()
	require.NoError(t, err)
	assert.Empty(t, conv)
}

func TestAddCodeFlow(t *testing.T) {
	m := newManager(t, &fakeProvider{}, utils.DataConfig{})
	s, err := m.Create(dashboard.PageSales, 1)
	require.NoError(t, err)

	_, err = s.SubmitCode("", "fig = px.bar(df, x='Categoria', y='Vendas')")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, s.CancelCode(), ErrInvalidTransition)

	require.NoError(t, s.BeginCode())
	assert.Equal(t, CodeAwaitingInput, s.CodeState())
	assert.ErrorIs(t, s.BeginCode(), ErrInvalidTransition)

	_, err = s.SubmitCode("", "import os\nos.system('rm -rf /')")
	var ee *assistant.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, CodeAwaitingInput, s.CodeState(), "a failed submit keeps the draft open")

	res, err := s.SubmitCode("", "fig = px.bar(df, x='Categoria', y='Vendas')")
	require.NoError(t, err)
	assert.Equal(t, "Code 14:05", res.Saved.Name)
	require.NotNil(t, res.Plot)
	assert.Equal(t, db.OriginManual, res.Plot.Origin)
	assert.Equal(t, CodeIdle, s.CodeState())

	require.NoError(t, s.BeginCode())
	require.NoError(t, s.CancelCode())
	assert.Equal(t, CodeIdle, s.CodeState())

	saved, err := s.SavedCode()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "fig = px.bar(df, x='Categoria', y='Vendas')", saved[0].Source)
}

func saveCode(t *testing.T, s *Session, name, source string) *db.SavedCode {
	t.Helper()
	require.NoError(t, s.BeginCode())
	res, err := s.SubmitCode(name, source)
	require.NoError(t, err)
	return res.Saved
}

func TestRunSavedAndRemove(t *testing.T) {
	m := newManager(t, &fakeProvider{}, utils.DataConfig{})
	s, err := m.Create(dashboard.PageProducts, 1)
	require.NoError(t, err)

	first := saveCode(t, s, "preços", "fig = px.histogram(df, x='Preco')")
	second := saveCode(t, s, "resumo", "resumo = df.groupby('Categoria').size()")

	plot, err := s.RunSaved(first.ID)
	require.NoError(t, err)
	require.NotNil(t, plot)

	plot, err = s.RunSaved(second.ID)
	require.NoError(t, err)
	assert.Nil(t, plot)

	plots, err := s.Plots()
	require.NoError(t, err)
	require.Len(t, plots, 2)
	assert.True(t, !plots[0].CreatedAt.Before(plots[1].CreatedAt))

	require.NoError(t, s.RemoveCode(first.ID))
	assert.ErrorIs(t, s.RemoveCode(first.ID), db.ErrNotFound)
	_, err = s.RunSaved(first.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	require.NoError(t, s.RemovePlot(plots[0].ID))
	plots, err = s.Plots()
	require.NoError(t, err)
	assert.Len(t, plots, 1)
}

func TestRemoveCodePreservesOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("removing one saved item keeps the others in order", prop.ForAll(
		func(n, k int) bool {
			m := newManager(t, &fakeProvider{}, utils.DataConfig{})
			s, err := m.Create(dashboard.PageSales, 1)
			if err != nil {
				return false
			}
			var ids []string
			for i := 0; i < n; i++ {
				if s.BeginCode() != nil {
					return false
				}
				res, err := s.SubmitCode("", "fig = px.pie(df, names='Canal')")
				if err != nil {
					return false
				}
				ids = append(ids, res.Saved.ID)
			}
			victim := ids[k%n]
			if s.RemoveCode(victim) != nil {
				return false
			}
			saved, err := s.SavedCode()
			if err != nil || len(saved) != n-1 {
				return false
			}
			want := append(append([]string{}, ids[:k%n]...), ids[k%n+1:]...)
			for i, item := range saved {
				if item.ID != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

const salesCSV = "regiao,vendas\nNorte,10\nSul,20\nSul,5\n"

func TestUploadsAndFilesPage(t *testing.T) {
	p := &fakeProvider{reply: "```python\nfig = px.pie(dataframes['vendas.csv'], names='regiao', values='vendas')\n```"}
	m := newManager(t, p, utils.DataConfig{MaxUploadBytes: 1 << 10})
	s, err := m.Create(dashboard.PageFiles, 1)
	require.NoError(t, err)
	assert.Empty(t, s.Controls())

	first, err := s.Upload("vendas.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, first.Summary.Rows)
	assert.Equal(t, "csv", first.Format)

	second, err := s.Upload("vendas.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = s.Upload("relatorio.pdf", strings.NewReader("%PDF"))
	assert.True(t, analytics.IsValidation(err))
	_, err = s.Upload("grande.csv", strings.NewReader(strings.Repeat("a,b\n", 1000)))
	assert.True(t, analytics.IsValidation(err))

	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)

	v, err := s.View(context.Background(), analytics.FilterSpec{})
	require.NoError(t, err)
	assert.Len(t, v.Files, 2)
	assert.Equal(t, 6, v.Rows)

	res, err := s.Chat(context.Background(), "Distribuição por região?")
	require.NoError(t, err)
	require.Len(t, res.Plots, 1)
	assert.Contains(t, p.lastMsg[len(p.lastMsg)-1].Content, "File: vendas.csv")

	fig, err := s.BuildChart(chart.Spec{Kind: chart.Bar, Dataset: first.ID, X: "regiao", Y: chart.StringList{"vendas"}, Agg: analytics.OpSum}, nil)
	require.NoError(t, err)
	require.Len(t, fig.Data, 1)
	assert.Equal(t, []any{"Norte", "Sul"}, fig.Data[0].X)

	_, err = s.BuildChart(chart.Spec{Kind: chart.Bar, Dataset: "outro.csv", X: "regiao"}, nil)
	assert.True(t, analytics.IsValidation(err))

	require.NoError(t, s.RemoveFile(first.ID))
	assert.ErrorIs(t, s.RemoveFile(first.ID), db.ErrNotFound)
	files, err = s.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestUploadCapEvictsOldest(t *testing.T) {
	m := newManager(t, &fakeProvider{}, utils.DataConfig{})
	s, err := m.Create(dashboard.PageFiles, 1)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 4; i++ {
		u, err := s.Upload("vendas.csv", strings.NewReader(salesCSV))
		require.NoError(t, err)
		ids = append(ids, u.ID)
		if i == 3 {
			assert.Equal(t, []string{ids[0]}, u.Evicted)
		}
	}
	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, ids[1], files[0].ID)
}

func TestBuildChartWithFilters(t *testing.T) {
	m := newManager(t, &fakeProvider{}, utils.DataConfig{})
	s, err := m.Create(dashboard.PageMarketing, 1)
	require.NoError(t, err)

	filters := &analytics.FilterSpec{Predicates: []analytics.Predicate{analytics.OneOf("Canal", "Email")}}
	fig, err := s.BuildChart(chart.Spec{Kind: chart.Bar, X: "Canal", Y: chart.StringList{"Custo"}, Agg: analytics.OpSum}, filters)
	require.NoError(t, err)
	require.Len(t, fig.Data, 1)
	assert.LessOrEqual(t, len(fig.Data[0].X), 1)

	_, err = s.BuildChart(chart.Spec{Kind: "radar", X: "Canal"}, nil)
	assert.True(t, analytics.IsValidation(err))
}

func TestManagerReopenDeleteAndDefault(t *testing.T) {
	store := newStore(t)
	m := NewManager(store, nil, utils.DataConfig{}, nil, WithClock(func() time.Time { return fixedNow }))
	s, err := m.Create(dashboard.PageFinance, 3)
	require.NoError(t, err)

	other := NewManager(store, nil, utils.DataConfig{}, nil, WithClock(func() time.Time { return fixedNow }))
	reopened, err := other.Get(s.ID())
	require.NoError(t, err)
	assert.NotSame(t, s, reopened)
	assert.Equal(t, s.base.Numbers("Receita"), reopened.base.Numbers("Receita"))

	res, err := reopened.Chat(context.Background(), "oi")
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.True(t, errors.Is(res.Err, assistant.ErrNoProvider))

	require.NoError(t, m.Delete(s.ID()))
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, db.ErrNotFound)

	d1, err := m.Default()
	require.NoError(t, err)
	d2, err := m.Default()
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	assert.Equal(t, dashboard.PageSalesOverview, d1.Page().ID)
}

func TestExport(t *testing.T) {
	m := newManager(t, &fakeProvider{reply: "ok"}, utils.DataConfig{})
	s, err := m.Create(dashboard.PageSales, 1)
	require.NoError(t, err)
	_, err = s.Chat(context.Background(), "resumo")
	require.NoError(t, err)

	md, err := s.Export(utils.FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "resumo")
	assert.Contains(t, string(md), "### Assistant")
}
