package llm

import (
	"context"
	"fmt"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // "user" or "assistant" or "system"
	Content string `json:"content"`
}

// Options tunes a single completion call. Zero values fall back to the
// provider configuration.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completion is a finished, non-streamed reply
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// Provider interface defines the common interface for all LLM providers
type Provider interface {
	// Chat sends messages and returns the complete response
	Chat(ctx context.Context, messages []Message, opts Options) (*Completion, error)

	// Name returns the provider name
	Name() string

	// Models returns the list of supported models
	Models() []string

	// ValidateConfig validates the provider configuration
	ValidateConfig() error
}

// Config represents provider configuration
type Config struct {
	ProviderName string   // Display name for the provider
	APIKey       string
	BaseURL      string
	Model        string
	Models       []string // Available models list
	Timeout      int      // seconds
	MaxTokens    int
	Temperature  float64
}

// resolve merges per-call options over the configured defaults
func (c Config) resolve(opts Options) Options {
	if opts.Model == "" {
		opts.Model = c.Model
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = c.MaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = c.Temperature
	}
	return opts
}

// StatusError is a non-200 answer from a provider's HTTP API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status code: %d): %s", e.StatusCode, e.Body)
}

// Roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
