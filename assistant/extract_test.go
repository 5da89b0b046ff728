package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodeBlocks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "python fence",
			text: "```python\nfig = px.bar(x=[1],y=[2])\n```",
			want: []string{"fig = px.bar(x=[1],y=[2])"},
		},
		{
			name: "untagged fence with prose around it",
			text: "Here you go:\n\n```\nfig = go.Figure(data=[go.Bar(x=['a'], y=[1])])\nfig.show()\n```\nDone.",
			want: []string{"fig = go.Figure(data=[go.Bar(x=['a'], y=[1])])\nfig.show()"},
		},
		{
			name: "no fenced blocks here",
			text: "no fenced blocks here",
			want: nil,
		},
		{
			name: "block not starting with a figure",
			text: "```python\nimport plotly.express as px\nfig = px.bar(df, x='a')\n```",
			want: nil,
		},
		{
			name: "other language",
			text: "```sql\nfig = px.bar(df)\n```",
			want: nil,
		},
		{
			name: "several blocks in order",
			text: "```python\nfig = px.pie(df, names='a')\n```\ntext\n```py\n\nfig = px.line(df, x='d', y='v')\n```",
			want: []string{"fig = px.pie(df, names='a')", "fig = px.line(df, x='d', y='v')"},
		},
		{
			name: "single line fence",
			text: "```python fig = px.bar(x=[1], y=[2])```",
			want: []string{"fig = px.bar(x=[1], y=[2])"},
		},
		{
			name: "closing fence on the code line",
			text: "```python\nfig = px.bar(x=[1], y=[2])```",
			want: []string{"fig = px.bar(x=[1], y=[2])"},
		},
		{
			name: "unterminated block is dropped",
			text: "```python\nfig = px.bar(x=[1], y=[2])\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCodeBlocks(tt.text))
		})
	}
}

func TestExtractSnippets(t *testing.T) {
	text := "First:\n```chart\nkind: bar\nx: Regiao\ny: Vendas\n```\nThen:\n```python\nfig = px.pie(df, names='Categoria')\n```\n"

	snippets := ExtractSnippets(text)
	require.Len(t, snippets, 2)
	assert.Equal(t, SnippetSpec, snippets[0].Kind)
	assert.Equal(t, "kind: bar\nx: Regiao\ny: Vendas", snippets[0].Source)
	assert.Equal(t, SnippetCode, snippets[1].Kind)

	assert.Equal(t, []string{"kind: bar\nx: Regiao\ny: Vendas"}, ExtractChartSpecs(text))
	assert.Equal(t, []string{"fig = px.pie(df, names='Categoria')"}, ExtractCodeBlocks(text))
}
