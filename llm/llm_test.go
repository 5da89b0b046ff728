package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdash/utils"
)

var conversation = []Message{
	{Role: RoleSystem, Content: "You analyse dashboards."},
	{Role: RoleUser, Content: "Total de vendas?"},
}

func TestOpenAIChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-3.5-turbo-0125",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "R$ 10"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	c, err := p.Chat(context.Background(), conversation, Options{})
	require.NoError(t, err)
	assert.Equal(t, "R$ 10", c.Text)
	assert.Equal(t, "gpt-3.5-turbo-0125", c.Model)
	assert.Equal(t, 13, c.TokensUsed)

	assert.Equal(t, "gpt-3.5-turbo", got["model"])
	assert.EqualValues(t, 500, got["max_tokens"])
	assert.InDelta(t, 0.7, got["temperature"], 1e-6)
	assert.Len(t, got["messages"], 2)
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "quota exceeded", "type": "insufficient_quota"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), conversation, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.True(t, utils.IsRetryableError(err))
}

func TestClaudeChat(t *testing.T) {
	var got ClaudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"model": "claude-3-5-haiku-20241022",
			"content": [{"type": "text", "text": "Olá"}, {"type": "text", "text": "!"}],
			"usage": {"input_tokens": 4, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p, err := NewClaudeProvider(Config{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	c, err := p.Chat(context.Background(), conversation, Options{MaxTokens: 42})
	require.NoError(t, err)
	assert.Equal(t, "Olá!", c.Text)
	assert.Equal(t, 6, c.TokensUsed)
	assert.Equal(t, "You analyse dashboards.", got.System)
	assert.Equal(t, 42, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
}

func TestClaudeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	p, err := NewClaudeProvider(Config{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), conversation, Options{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, utils.IsRetryableError(err))
}

func TestGeminiChat(t *testing.T) {
	var got GeminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "gk", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "ok"}]}}],
			"usageMetadata": {"totalTokenCount": 9}
		}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(Config{APIKey: "gk", BaseURL: srv.URL})
	require.NoError(t, err)

	history := append(conversation, Message{Role: RoleAssistant, Content: "R$ 10"}, Message{Role: RoleUser, Content: "E clientes?"})
	c, err := p.Chat(context.Background(), history, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", c.Text)
	assert.Equal(t, 9, c.TokensUsed)
	assert.Equal(t, "gemini-1.5-flash", c.Model)

	require.NotNil(t, got.SystemInstruction)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "model", got.Contents[1].Role)
}

func TestOllamaChat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model": "llama3", "message": {"role": "assistant", "content": "pronto"}, "done": true, "prompt_eval_count": 7, "eval_count": 5}`))
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	require.NoError(t, p.ValidateConfig())

	c, err := p.Chat(context.Background(), conversation, Options{Model: "mistral"})
	require.NoError(t, err)
	assert.Equal(t, "pronto", c.Text)
	assert.Equal(t, 12, c.TokensUsed)
	assert.False(t, got.Stream)
	assert.Equal(t, "mistral", got.Model)
}

func TestFactory(t *testing.T) {
	cfg := utils.DefaultConfig()
	cfg.LLMProviders["ollama"] = utils.ProviderConfig{BaseURL: "http://localhost:11434", Enabled: true}

	providers := NewProviders(cfg, utils.NewNopLogger())
	require.Contains(t, providers, "openai")
	require.Contains(t, providers, "ollama")
	assert.NotContains(t, providers, "claude")

	assert.IsType(t, &OpenAIProvider{}, providers["openai"])
	assert.IsType(t, &OllamaProvider{}, providers["ollama"])
	assert.Equal(t, "OpenAI", providers["openai"].Name())
	assert.Equal(t, "ollama", providers["ollama"].Name())
	assert.Error(t, providers["openai"].ValidateConfig())

	p, err := NewFromConfig("claude", utils.ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &ClaudeProvider{}, p)
	p, err = NewFromConfig("gemini", utils.ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &GeminiProvider{}, p)

	_, err = Active(providers, "claude")
	assert.Error(t, err)
}
