package llm

import (
	"fmt"
	"sort"

	"bizdash/utils"
)

// NewFromConfig builds the provider registered under name. Unknown names
// are treated as OpenAI-compatible endpoints.
func NewFromConfig(name string, pc utils.ProviderConfig) (Provider, error) {
	// Use display name if available, otherwise use config key
	displayName := pc.DisplayName
	if displayName == "" {
		displayName = name
	}

	config := Config{
		ProviderName: displayName,
		APIKey:       pc.APIKey,
		BaseURL:      pc.BaseURL,
		Model:        pc.DefaultModel,
		Models:       pc.Models,
		Timeout:      pc.TimeoutSeconds,
		MaxTokens:    pc.MaxTokens,
		Temperature:  pc.Temperature,
	}

	switch name {
	case "ollama":
		return NewOllamaProvider(config)
	case "claude", "anthropic":
		return NewClaudeProvider(config)
	case "gemini":
		return NewGeminiProvider(config)
	default:
		return NewOpenAIProvider(config)
	}
}

// NewProviders initializes every enabled provider in the configuration
func NewProviders(cfg *utils.Config, logger *utils.Logger) map[string]Provider {
	providers := make(map[string]Provider)

	names := make([]string, 0, len(cfg.LLMProviders))
	for name := range cfg.LLMProviders {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := cfg.LLMProviders[name]
		if !pc.Enabled {
			logger.Debug("Provider %s is disabled in config", name)
			continue
		}
		provider, err := NewFromConfig(name, pc)
		if err != nil {
			logger.Error("Failed to initialize %s provider: %v", name, err)
			continue
		}
		if err := provider.ValidateConfig(); err != nil {
			logger.Warn("Provider %s is enabled but misconfigured: %v", name, err)
		}
		providers[name] = provider
		logger.Info("%s provider initialized successfully", name)
	}
	return providers
}

// Active returns the configured active provider
func Active(providers map[string]Provider, name string) (Provider, error) {
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not enabled", name)
	}
	return p, nil
}
