package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdash/assistant"
	"bizdash/dashboard"
	"bizdash/db"
	"bizdash/llm"
	"bizdash/session"
	"bizdash/utils"
)

type fakeProvider struct {
	err   error
	reply string
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.reply, Model: "fake-1"}, nil
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Models() []string      { return []string{"fake-1"} }
func (f *fakeProvider) ValidateConfig() error { return nil }

func newTestServer(t *testing.T, p llm.Provider) (*Server, *httptest.Server) {
	t.Helper()
	store, err := db.New(":memory:", db.Limits{MaxConversation: 100, MaxSavedCode: 20, MaxPlots: 20, MaxUploads: 5})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bridge := assistant.NewBridge(p, utils.ChatConfig{MaxRetries: 0, RetryBaseDelayMS: 1, RequestTimeoutSecs: 5}, utils.PrivacyConfig{}, nil)
	mgr := session.NewManager(store, bridge, utils.DataConfig{MaxUploadBytes: 1 << 20}, nil)
	srv := New(mgr, utils.ServerConfig{Addr: "127.0.0.1:0"}, nil, "test")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createSession(t *testing.T, base, page string) db.Session {
	t.Helper()
	resp := do(t, http.MethodPost, base+"/api/sessions", map[string]any{"page": page, "seed": 42})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var info db.Session
	decode(t, resp, &info)
	return info
}

func TestProcessMessageAlwaysAnswersWithText(t *testing.T) {
	_, ts := newTestServer(t, &fakeProvider{reply: "As vendas cresceram."})
	resp := do(t, http.MethodPost, ts.URL+"/process_message", map[string]string{"message": "Como estão as vendas?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out messageResponse
	decode(t, resp, &out)
	assert.Equal(t, "As vendas cresceram.", out.Response)

	_, failing := newTestServer(t, &fakeProvider{err: errors.New("error, status code: 401, invalid api key")})
	resp = do(t, http.MethodPost, failing.URL+"/process_message", map[string]string{"message": "Oi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &out)
	assert.NotEmpty(t, out.Response)

	resp = do(t, http.MethodPost, ts.URL+"/process_message", map[string]string{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/process_message", map[string]string{"text": "wrong field"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthPagesAndStats(t *testing.T) {
	_, ts := newTestServer(t, &fakeProvider{})

	resp := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]string
	decode(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])

	resp = do(t, http.MethodGet, ts.URL+"/api/pages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pages []dashboard.Page
	decode(t, resp, &pages)
	assert.Len(t, pages, len(dashboard.Pages()))

	createSession(t, ts.URL, dashboard.PageSales)
	resp = do(t, http.MethodGet, ts.URL+"/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats statsResponse
	decode(t, resp, &stats)
	assert.EqualValues(t, 1, stats.SessionCount)
}

func TestSessionLifecycle(t *testing.T) {
	_, ts := newTestServer(t, &fakeProvider{})

	resp := do(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{"page": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	info := createSession(t, ts.URL, dashboard.PageFinance)
	assert.Equal(t, dashboard.PageFinance, info.Page)
	assert.EqualValues(t, 42, info.Seed)

	resp = do(t, http.MethodGet, ts.URL+"/api/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]any
	decode(t, resp, &got)
	assert.Equal(t, "idle", got["code_state"])

	resp = do(t, http.MethodGet, ts.URL+"/api/sessions", nil)
	var list []db.Session
	decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)

	resp = do(t, http.MethodDelete, ts.URL+"/api/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/api/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/api/sessions/missing/controls", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestViewWithFilters(t *testing.T) {
	_, ts := newTestServer(t, &fakeProvider{})
	info := createSession(t, ts.URL, dashboard.PageFinance)
	base := ts.URL + "/api/sessions/" + info.ID

	resp := do(t, http.MethodGet, base+"/controls", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var controls []dashboard.Control
	decode(t, resp, &controls)
	assert.NotEmpty(t, controls)

	resp = do(t, http.MethodPost, base+"/view", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all dashboard.View
	decode(t, resp, &all)
	assert.Equal(t, all.BaselineRows, all.Rows)
	assert.Len(t, all.Metrics, 4)

	resp = do(t, http.MethodPost, base+"/view", map[string]any{
		"month_range": map[string]string{"column": "Data", "from": "2024-02", "to": "2024-03"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ranged dashboard.View
	decode(t, resp, &ranged)
	assert.Equal(t, 2, ranged.Rows)

	resp = do(t, http.MethodPost, base+"/view", map[string]any{
		"predicates": []map[string]any{{"column": "nope", "kind": "equals", "value": "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorBody
	decode(t, resp, &body)
	assert.Contains(t, body.Error, "nope")
}

func TestChatStoresPlotsAndConversation(t *testing.T) {
	reply := "Veja:\n```python\nfig = px.bar(df_filtered, x='regiao', y='vendas')\nfig.show()\n```"
	srv, ts := newTestServer(t, &fakeProvider{reply: reply})
	info := createSession(t, ts.URL, dashboard.PageSalesOverview)
	base := ts.URL + "/api/sessions/" + info.ID

	resp := do(t, http.MethodPost, base+"/chat", map[string]string{"message": "Vendas por região?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res session.ChatResult
	decode(t, resp, &res)
	assert.False(t, res.Failed)
	require.Len(t, res.Plots, 1)
	assert.Empty(t, res.Errors)

	resp = do(t, http.MethodGet, base+"/conversation", nil)
	var msgs []db.Message
	decode(t, resp, &msgs)
	assert.Len(t, msgs, 2)

	resp = do(t, http.MethodGet, base+"/plots", nil)
	var plots []db.Plot
	decode(t, resp, &plots)
	require.Len(t, plots, 1)

	resp = do(t, http.MethodDelete, base+"/plots/"+plots[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodDelete, base+"/plots/"+plots[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().chatRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().snippets.WithLabelValues("plotted")))
}

func TestCodeFlow(t *testing.T) {
	srv, ts := newTestServer(t, &fakeProvider{})
	info := createSession(t, ts.URL, dashboard.PageSales)
	base := ts.URL + "/api/sessions/" + info.ID
	source := "fig = px.pie(df, names='Canal')"

	resp := do(t, http.MethodPost, base+"/code", map[string]string{"source": source})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, base+"/code/draft", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state map[string]string
	decode(t, resp, &state)
	assert.Equal(t, "awaiting_input", state["state"])

	resp = do(t, http.MethodPost, base+"/code", map[string]string{"source": "import os\nos.system('ls')"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = do(t, http.MethodPost, base+"/code", map[string]string{"name": "Canais", "source": source})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res session.CodeResult
	decode(t, resp, &res)
	assert.Equal(t, "Canais", res.Saved.Name)
	require.NotNil(t, res.Plot)

	resp = do(t, http.MethodGet, base+"/code", nil)
	var items []db.SavedCode
	decode(t, resp, &items)
	require.Len(t, items, 1)

	resp = do(t, http.MethodPost, base+"/code/"+items[0].ID+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run runCodeResponse
	decode(t, resp, &run)
	require.NotNil(t, run.Plot)

	resp = do(t, http.MethodDelete, base+"/code/"+items[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodPost, base+"/code/"+items[0].ID+"/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodDelete, base+"/code/draft", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.Equal(t, 2.0, testutil.ToFloat64(srv.Metrics().snippets.WithLabelValues("plotted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().snippets.WithLabelValues("failed")))
}

func upload(t *testing.T, url, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFilesAndCharts(t *testing.T) {
	srv, ts := newTestServer(t, &fakeProvider{})
	info := createSession(t, ts.URL, dashboard.PageFiles)
	base := ts.URL + "/api/sessions/" + info.ID

	resp := upload(t, base+"/files", "vendas.csv", "regiao,vendas\nNorte,10\nSul,20\nNorte,5\n")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var up session.Upload
	decode(t, resp, &up)
	assert.Equal(t, "vendas.csv", up.Filename)
	assert.Equal(t, 3, up.RowCount)

	resp = upload(t, base+"/files", "notas.pdf", "%PDF")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, base+"/files", nil)
	var files []dashboard.FileSummary
	decode(t, resp, &files)
	require.Len(t, files, 1)

	resp = do(t, http.MethodPost, base+"/charts", map[string]any{
		"kind": "bar", "dataset": up.ID, "x": "regiao", "y": "vendas", "agg": "sum",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fig map[string]any
	decode(t, resp, &fig)
	assert.NotEmpty(t, fig["data"])

	resp = do(t, http.MethodPost, base+"/charts", map[string]any{"kind": "radar", "dataset": up.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodDelete, base+"/files/"+up.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().uploads.WithLabelValues("csv", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().uploads.WithLabelValues("pdf", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().chartBuilds.WithLabelValues("radar", "error")))
}

func TestExport(t *testing.T) {
	_, ts := newTestServer(t, &fakeProvider{reply: "Tudo certo."})
	info := createSession(t, ts.URL, dashboard.PageCustomers)
	base := ts.URL + "/api/sessions/" + info.ID
	do(t, http.MethodPost, base+"/chat", map[string]string{"message": "Resumo?"})

	resp := do(t, http.MethodGet, base+"/export?format=markdown", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".md")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Session "+info.ID))
	assert.Contains(t, string(data), "Tudo certo.")

	resp = do(t, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp = do(t, http.MethodGet, base+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &fakeProvider{})
	do(t, http.MethodGet, ts.URL+"/healthz", nil)

	resp := do(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `bizdash_http_requests_total{code="200",route="GET /healthz"} 1`)
}

func TestRecovererTurnsPanicsInto500(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{})
	h := srv.recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
