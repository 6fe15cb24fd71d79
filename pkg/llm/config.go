package llm

import (
	"github.com/spf13/viper"
)

// Config holds model settings read from the playbook configuration.
type Config struct {
	Provider  string       `mapstructure:"provider" json:"provider" yaml:"provider"`
	Model     string       `mapstructure:"model" json:"model" yaml:"model"`
	Models    []string     `mapstructure:"models" json:"models" yaml:"models"`
	MaxTokens int          `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	Retry     RetryConfig  `mapstructure:"retry" json:"retry" yaml:"retry"`
	OpenAI    OpenAIConfig `mapstructure:"openai" json:"openai" yaml:"openai"`
	Google    GoogleConfig `mapstructure:"google" json:"google" yaml:"google"`
}

// RetryConfig controls transport retries inside provider adapters. Delays are in milliseconds.
type RetryConfig struct {
	Attempts     int    `mapstructure:"attempts" json:"attempts" yaml:"attempts"`
	InitialDelay int    `mapstructure:"initial_delay" json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     int    `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay"`
	BackoffType  string `mapstructure:"backoff_type" json:"backoff_type" yaml:"backoff_type"`
}

// OpenAIConfig configures OpenAI compatible endpoints.
type OpenAIConfig struct {
	BaseURL   string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env" json:"api_key_env" yaml:"api_key_env"`
}

// GoogleConfig selects between the Gemini API and Vertex AI.
type GoogleConfig struct {
	Backend  string `mapstructure:"backend" json:"backend" yaml:"backend"`
	APIKey   string `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	Project  string `mapstructure:"project" json:"project" yaml:"project"`
	Location string `mapstructure:"location" json:"location" yaml:"location"`
}

// DefaultRetryConfig is used when no retry section is configured.
var DefaultRetryConfig = RetryConfig{
	Attempts:     3,
	InitialDelay: 1000,
	MaxDelay:     10000,
	BackoffType:  "exponential",
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-5",
		MaxTokens: 8192,
		Retry:     DefaultRetryConfig,
	}
}

// ConfigFromViper reads the top-level model keys, falling back to defaults.
func ConfigFromViper() (Config, error) {
	config := DefaultConfig()
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}
	if config.Provider == "" {
		config.Provider = "anthropic"
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 8192
	}
	if config.Retry.Attempts == 0 && config.Retry.InitialDelay == 0 {
		config.Retry = DefaultRetryConfig
	}
	return config, nil
}
