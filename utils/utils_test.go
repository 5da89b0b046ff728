package utils

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdash/db"
)

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1,234,567", FormatNumber(1234567, 0))
	assert.Equal(t, "R$ 1,234.50", FormatCurrency(1234.5))
	assert.Equal(t, "+12.5%", FormatDelta(12.5))
	assert.Equal(t, "-3.0%", FormatDelta(-3))
	assert.Equal(t, "0.0%", FormatDelta(0))
	assert.Equal(t, "2.0 kB", FormatFileSize(2048))
	assert.Equal(t, "-", FormatNumber(math.NaN(), 2))
}

func TestRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		attempts, err := Retry(context.Background(), policy, NewNopLogger(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		attempts, err := Retry(context.Background(), policy, NewNopLogger(), func(ctx context.Context) error {
			calls++
			return errors.New("i/o timeout")
		})
		var re *RetryError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, re.Attempts)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		permanent := errors.New("invalid api key")
		calls := 0
		attempts, err := Retry(context.Background(), policy, NewNopLogger(), func(ctx context.Context) error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, 1, calls)
	})

	t.Run("negative max retries still makes one attempt", func(t *testing.T) {
		cause := errors.New("connection refused")
		calls := 0
		attempts, err := Retry(context.Background(), RetryPolicy{MaxRetries: -3}, NewNopLogger(), func(ctx context.Context) error {
			calls++
			return cause
		})
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, attempts)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("honours cancellation between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := Retry(ctx, RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}, NewNopLogger(), func(ctx context.Context) error {
			cancel()
			return errors.New("network unreachable")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(errors.New("error, status code: 429")))
	assert.False(t, IsRetryableError(errors.New("error, status code: 401")))
}

func TestRecoverInto(t *testing.T) {
	run := func() (err error) {
		defer RecoverInto(NewNopLogger(), "chart build", &err)
		panic("boom")
	}
	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chart build: panic: boom")
	assert.Nil(t, WrapError(nil, "ctx"))
}

func TestConfigDefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bizdash", "config.json")
	got, err := EnsureDefaultConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	_, err = os.Stat(path)
	require.NoError(t, err)

	t.Setenv("BIZDASH_SERVER_ADDR", ":9999")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, ":memory:", cfg.Data.DBPath)
	assert.Equal(t, 3, cfg.Chat.MaxRetries)
	assert.Equal(t, time.Second, cfg.Chat.RetryBaseDelay())
	assert.Equal(t, time.Minute, cfg.Chat.RequestTimeout())
	assert.Equal(t, "openai", cfg.ActiveProvider)
	assert.Equal(t, "gpt-3.5-turbo", cfg.LLMProviders["openai"].DefaultModel)
}

func TestConfigRejectsNegativeRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := EnsureDefaultConfig(path)
	require.NoError(t, err)

	t.Setenv("BIZDASH_CHAT_MAX_RETRIES", "-1")
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
}

func exportFixture(t *testing.T) (*db.DB, string) {
	t.Helper()
	store, err := db.New(":memory:", db.Limits{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sess, err := store.CreateSession("sales", 42)
	require.NoError(t, err)
	_, err = store.AppendTurns(sess.ID,
		db.Turn{Role: "user", Content: "Quais regiões vendem mais?"},
		db.Turn{Role: "assistant", Content: "O Sudeste lidera.", Provider: "openai", Model: "gpt-3.5-turbo"},
	)
	require.NoError(t, err)
	_, err = store.SaveCode(sess.ID, "Code 10:30", "fig = px.bar(df, x='Região', y='Vendas')")
	require.NoError(t, err)
	_, err = store.AddPlot(sess.ID, db.OriginManual, "fig = px.bar(df, x='Região', y='Vendas')", []byte(`{"data":[]}`))
	require.NoError(t, err)
	return store, sess.ID
}

func TestExportSessionJSON(t *testing.T) {
	store, id := exportFixture(t)

	data, err := ExportSession(store, id, FormatJSON)
	require.NoError(t, err)

	var export SessionExport
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, id, export.Session.ID)
	require.Len(t, export.Messages, 2)
	assert.Equal(t, "O Sudeste lidera.", export.Messages[1].Content)
	require.Len(t, export.SavedCode, 1)
	assert.Equal(t, "Code 10:30", export.SavedCode[0].Name)
	require.Len(t, export.Plots, 1)
	assert.JSONEq(t, `{"data":[]}`, string(export.Plots[0].Figure))
	assert.Equal(t, "bizdash", export.Metadata["app_name"])
}

func TestExportSessionMarkdown(t *testing.T) {
	store, id := exportFixture(t)

	data, err := ExportSession(store, id, FormatMarkdown)
	require.NoError(t, err)
	md := string(data)

	assert.True(t, strings.HasPrefix(md, "# Session "+id))
	assert.Contains(t, md, "### User\n\nQuais regiões vendem mais?")
	assert.Contains(t, md, "*openai - gpt-3.5-turbo*")
	assert.Contains(t, md, "```python\nfig = px.bar(df, x='Região', y='Vendas')\n```")
	assert.Contains(t, md, "## Plots")

	_, err = ExportSession(store, "missing", FormatJSON)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestParseExportFormat(t *testing.T) {
	for in, want := range map[string]ExportFormat{"": FormatJSON, "JSON": FormatJSON, "md": FormatMarkdown, "markdown": FormatMarkdown} {
		got, err := ParseExportFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseExportFormat("pdf")
	assert.Error(t, err)

	name := GenerateExportFilename("vendas: janeiro", FormatMarkdown)
	assert.True(t, strings.HasPrefix(name, "vendas_ janeiro_"))
	assert.True(t, strings.HasSuffix(name, ".md"))
}
