// Package assistant connects dashboards to an LLM provider: it sends the
// user's question with the page context, and turns the plotting code in the
// reply into figures without executing anything.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizdash/llm"
	"bizdash/utils"
)

// DefaultSystemPrompt is sent ahead of every conversation
const DefaultSystemPrompt = `You are a business data analyst. Answer questions about the dashboard data in the context.
When a chart helps, reply with Python plotly code in a markdown block that assigns the figure to fig, for example:
` + "```python\nfig = px.bar(df_filtered, x='Regiao', y='Vendas', title='Vendas por Regiao')\n```" + `
The data is available as df (all rows), df_filtered (rows matching the active filters) and dataframes['<file name>'] for uploaded files.
Use only px.bar, px.line, px.scatter, px.pie, px.histogram, px.box or go.Figure with go.Bar, go.Scatter, go.Pie, go.Histogram and go.Box traces.`

// ErrNoProvider is reported when no LLM provider is configured
var ErrNoProvider = errors.New("no LLM provider is configured")

const errorReplyPrefix = "Sorry, an error occurred while processing the question: "

// Reply is the outcome of a chat call. Text is always set: on failure it is
// a user facing error message and Err holds the cause.
type Reply struct {
	Text       string        `json:"text"`
	Err        error         `json:"-"`
	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	TokensUsed int           `json:"tokens_used,omitempty"`
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency"`
}

// Bridge sends conversations to a provider with bounded retries
type Bridge struct {
	provider llm.Provider
	chat     utils.ChatConfig
	privacy  utils.PrivacyConfig
	logger   *utils.Logger
}

// NewBridge creates a bridge; provider may be nil, in which case every call
// fails with ErrNoProvider
func NewBridge(provider llm.Provider, chat utils.ChatConfig, privacy utils.PrivacyConfig, logger *utils.Logger) *Bridge {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Bridge{provider: provider, chat: chat, privacy: privacy, logger: logger}
}

// Provider returns the provider the bridge talks to
func (b *Bridge) Provider() llm.Provider { return b.provider }

// UserTurn formats the question as it is sent to the provider
func UserTurn(message, contextBlock string) string {
	if strings.TrimSpace(contextBlock) == "" {
		return message
	}
	return "Context:\n" + contextBlock + "\n\nQuestion: " + message
}

// ErrorText is the reply shown when a call fails
func ErrorText(err error) string {
	return errorReplyPrefix + err.Error()
}

func (b *Bridge) systemPrompt() string {
	if b.chat.SystemPrompt != "" {
		return b.chat.SystemPrompt
	}
	return DefaultSystemPrompt
}

// Send asks the provider to answer message given history and the page
// context. It never fails; see Reply.
func (b *Bridge) Send(ctx context.Context, history []llm.Message, message, contextBlock string) Reply {
	start := time.Now()
	if b.provider == nil {
		return Reply{Text: ErrorText(ErrNoProvider), Err: &ExternalServiceError{Err: ErrNoProvider}, Latency: time.Since(start)}
	}

	var redactor *utils.Redactor
	if b.privacy.RedactSensitiveData {
		redactor = utils.NewRedactor(b.privacy)
	}
	outgoing := func(s string) string {
		if redactor == nil {
			return s
		}
		return redactor.Redact(s)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: b.systemPrompt()})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: outgoing(m.Content)})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: outgoing(UserTurn(message, contextBlock))})
	if redactor != nil && redactor.Count() > 0 {
		b.logger.Info("Redacted %d sensitive value(s) before sending", redactor.Count())
	}

	opts := llm.Options{MaxTokens: b.chat.MaxTokens, Temperature: b.chat.Temperature}
	policy := utils.RetryPolicy{MaxRetries: b.chat.MaxRetries, BaseDelay: b.chat.RetryBaseDelay()}
	timeout := b.chat.RequestTimeout()

	var completion *llm.Completion
	attempts, err := utils.Retry(ctx, policy, b.logger, func(ctx context.Context) error {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		c, err := b.provider.Chat(callCtx, messages, opts)
		if err != nil {
			return err
		}
		completion = c
		return nil
	})

	reply := Reply{Provider: b.provider.Name(), Attempts: attempts, Latency: time.Since(start)}
	if err != nil {
		var re *utils.RetryError
		if errors.As(err, &re) && re.Err != nil {
			err = re.Err
		}
		b.logger.Error("Chat with %s failed after %d attempt(s): %v", b.provider.Name(), attempts, err)
		reply.Err = &ExternalServiceError{Provider: b.provider.Name(), Attempts: attempts, Err: err}
		reply.Text = ErrorText(err)
		return reply
	}

	text := completion.Text
	if redactor != nil {
		text = redactor.Restore(text)
	}
	reply.Text = text
	reply.Model = completion.Model
	reply.TokensUsed = completion.TokensUsed
	b.logger.Debug("Chat with %s finished in %v (%d tokens)", b.provider.Name(), reply.Latency, reply.TokensUsed)
	return reply
}

// Describe names the provider for logs
func (b *Bridge) Describe() string {
	if b.provider == nil {
		return "none"
	}
	return fmt.Sprintf("%s (%d models)", b.provider.Name(), len(b.provider.Models()))
}
