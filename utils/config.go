package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	LLMProviders   map[string]ProviderConfig `mapstructure:"llm_providers" json:"llm_providers"`
	ActiveProvider string                    `mapstructure:"active_provider" json:"active_provider"`
	Chat           ChatConfig                `mapstructure:"chat" json:"chat"`
	Data           DataConfig                `mapstructure:"data" json:"data"`
	Server         ServerConfig              `mapstructure:"server" json:"server"`
	Logging        LoggingConfig             `mapstructure:"logging" json:"logging"`
	Privacy        PrivacyConfig             `mapstructure:"privacy" json:"privacy"`
}

// ProviderConfig represents LLM provider configuration
type ProviderConfig struct {
	DisplayName    string   `mapstructure:"display_name" json:"display_name,omitempty"`
	APIKey         string   `mapstructure:"api_key" json:"api_key"`
	BaseURL        string   `mapstructure:"base_url" json:"base_url"`
	DefaultModel   string   `mapstructure:"default_model" json:"default_model"`
	Models         []string `mapstructure:"models" json:"models,omitempty"`
	Enabled        bool     `mapstructure:"enabled" json:"enabled"`
	MaxTokens      int      `mapstructure:"max_tokens" json:"max_tokens,omitempty"`
	Temperature    float64  `mapstructure:"temperature" json:"temperature,omitempty"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// ChatConfig controls the chat bridge
type ChatConfig struct {
	MaxRetries         int     `mapstructure:"max_retries" json:"max_retries"`
	RetryBaseDelayMS   int     `mapstructure:"retry_base_delay_ms" json:"retry_base_delay_ms"`
	RequestTimeoutSecs int     `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`
	MaxTokens          int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature        float64 `mapstructure:"temperature" json:"temperature"`
	SystemPrompt       string  `mapstructure:"system_prompt" json:"system_prompt,omitempty"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	DBPath          string `mapstructure:"db_path" json:"db_path"`
	MaxConversation int    `mapstructure:"max_conversation" json:"max_conversation"`
	MaxSavedCode    int    `mapstructure:"max_saved_code" json:"max_saved_code"`
	MaxPlots        int    `mapstructure:"max_plots" json:"max_plots"`
	MaxUploads      int    `mapstructure:"max_uploads" json:"max_uploads"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`
}

// ServerConfig represents the HTTP listener configuration
type ServerConfig struct {
	Addr                string `mapstructure:"addr" json:"addr"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds" json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds" json:"write_timeout_seconds"`
}

// LoggingConfig represents logger configuration
type LoggingConfig struct {
	Level string `mapstructure:"level" json:"level"`
	Dir   string `mapstructure:"dir" json:"dir"`
}

// PrivacyConfig controls redaction of text sent to LLM providers
type PrivacyConfig struct {
	RedactSensitiveData bool     `mapstructure:"redact_sensitive_data" json:"redact_sensitive_data"`
	DisabledPatterns    []string `mapstructure:"disabled_patterns" json:"disabled_patterns,omitempty"`
}

// RetryBaseDelay returns the configured backoff base
func (c ChatConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// RequestTimeout returns the per-call timeout for the chat bridge
func (c ChatConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// DefaultConfig returns the configuration written on first run
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]ProviderConfig{
			"openai": {
				DisplayName:  "OpenAI",
				BaseURL:      "https://api.openai.com/v1",
				DefaultModel: "gpt-3.5-turbo",
				Models: []string{
					"gpt-3.5-turbo",
					"gpt-4o-mini",
					"gpt-4o",
				},
				Enabled: true,
			},
			"ollama": {
				DisplayName:  "Ollama",
				BaseURL:      "http://localhost:11434",
				DefaultModel: "llama3",
				Models:       []string{"llama3", "mistral"},
			},
			"claude": {
				DisplayName:  "Claude",
				BaseURL:      "https://api.anthropic.com/v1",
				DefaultModel: "claude-3-5-haiku-20241022",
				Models: []string{
					"claude-3-5-haiku-20241022",
					"claude-3-5-sonnet-20241022",
				},
			},
			"gemini": {
				DisplayName:  "Gemini",
				BaseURL:      "https://generativelanguage.googleapis.com/v1beta",
				DefaultModel: "gemini-1.5-flash",
				Models:       []string{"gemini-1.5-flash", "gemini-1.5-pro"},
			},
		},
		ActiveProvider: "openai",
		Chat: ChatConfig{
			MaxRetries:         3,
			RetryBaseDelayMS:   1000,
			RequestTimeoutSecs: 60,
			MaxTokens:          500,
			Temperature:        0.7,
		},
		Data: DataConfig{
			DBPath:          ":memory:",
			MaxConversation: 200,
			MaxSavedCode:    50,
			MaxPlots:        50,
			MaxUploads:      10,
			MaxUploadBytes:  20 << 20,
		},
		Server: ServerConfig{
			Addr:                ":8080",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "./logs",
		},
	}
}

// setDefaults registers every scalar default so env overrides reach Unmarshal
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("active_provider", d.ActiveProvider)
	v.SetDefault("chat.max_retries", d.Chat.MaxRetries)
	v.SetDefault("chat.retry_base_delay_ms", d.Chat.RetryBaseDelayMS)
	v.SetDefault("chat.request_timeout_seconds", d.Chat.RequestTimeoutSecs)
	v.SetDefault("chat.max_tokens", d.Chat.MaxTokens)
	v.SetDefault("chat.temperature", d.Chat.Temperature)
	v.SetDefault("chat.system_prompt", "")
	v.SetDefault("data.db_path", d.Data.DBPath)
	v.SetDefault("data.max_conversation", d.Data.MaxConversation)
	v.SetDefault("data.max_saved_code", d.Data.MaxSavedCode)
	v.SetDefault("data.max_plots", d.Data.MaxPlots)
	v.SetDefault("data.max_uploads", d.Data.MaxUploads)
	v.SetDefault("data.max_upload_bytes", d.Data.MaxUploadBytes)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout_seconds", d.Server.ReadTimeoutSeconds)
	v.SetDefault("server.write_timeout_seconds", d.Server.WriteTimeoutSeconds)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("privacy.redact_sensitive_data", false)
}

// LoadConfig loads configuration from file, applying defaults and
// BIZDASH_* environment overrides
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	setDefaults(v)

	v.SetEnvPrefix("BIZDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm_providers.openai.api_key", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Chat.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid config: chat.max_retries must not be negative, got %d", config.Chat.MaxRetries)
	}

	if config.Data.DBPath != "" && config.Data.DBPath != ":memory:" {
		config.Data.DBPath = expandPath(config.Data.DBPath)
	}

	return &config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(configPath string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ and relative paths
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "./config/default.json"
	}

	return filepath.Join(configDir, "bizdash", "config.json")
}

// EnsureDefaultConfig creates a default config file at configPath if it
// doesn't exist. An empty path means GetConfigPath().
func EnsureDefaultConfig(configPath string) (string, error) {
	if configPath == "" {
		configPath = GetConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", err
	}

	return configPath, nil
}
