package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ClaudeProvider implements the Provider interface for Anthropic Claude
type ClaudeProvider struct {
	apiKey  string
	baseURL string
	config  Config
	client  *http.Client
}

// ClaudeMessage represents a message in Claude's format
type ClaudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClaudeRequest represents a request to Claude API
type ClaudeRequest struct {
	Model       string          `json:"model"`
	Messages    []ClaudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
}

// ClaudeResponse represents a response from Claude API
type ClaudeResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(config Config) (*ClaudeProvider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}

	// Set defaults
	if config.MaxTokens == 0 {
		config.MaxTokens = 500
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.Model == "" {
		config.Model = "claude-3-5-haiku-20241022"
	}
	if config.ProviderName == "" {
		config.ProviderName = "Claude"
	}

	return &ClaudeProvider{
		apiKey:  config.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  config,
		client:  &http.Client{Timeout: time.Duration(config.Timeout) * time.Second},
	}, nil
}

// Chat implements non-streaming chat
func (p *ClaudeProvider) Chat(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	opts = p.config.resolve(opts)

	// Convert messages to Claude format and extract system message
	claudeMessages, systemPrompt := p.convertMessages(messages)

	req := ClaudeRequest{
		Model:       opts.Model,
		Messages:    claudeMessages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		System:      systemPrompt,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var claudeResp ClaudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("no content in response")
	}

	model := claudeResp.Model
	if model == "" {
		model = opts.Model
	}
	return &Completion{
		Text:       text.String(),
		Model:      model,
		TokensUsed: claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
	}, nil
}

// Name returns the provider name
func (p *ClaudeProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *ClaudeProvider) Models() []string {
	// Return models from config if available
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	// Fallback to default Claude models
	return []string{
		"claude-3-5-haiku-20241022",
		"claude-3-5-sonnet-20241022",
		"claude-3-opus-20240229",
	}
}

// ValidateConfig validates the configuration
func (p *ClaudeProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return errors.New("API key is required")
	}
	return nil
}

// convertMessages converts our Message format to Claude's format.
// System messages are concatenated into the separate system field.
func (p *ClaudeProvider) convertMessages(messages []Message) ([]ClaudeMessage, string) {
	var claudeMessages []ClaudeMessage
	var systemPrompt string

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		claudeMessages = append(claudeMessages, ClaudeMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return claudeMessages, systemPrompt
}

// setHeaders sets the required headers for Claude API requests
func (p *ClaudeProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
}
