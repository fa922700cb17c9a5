// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// MissingAPIKeyError is returned when the required credential is absent
// from the process configuration. The call is never attempted without it.
type MissingAPIKeyError struct {
	EnvVar string
}

func (e *MissingAPIKeyError) Error() string {
	return fmt.Sprintf("API key is required but not configured. Set %s or llm.api_key", e.EnvVar)
}

// APIKeyEnvVar is the environment variable the key is bound to.
const APIKeyEnvVar = "GEMINI_API_KEY"

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// LLMConfig defines the connection and retry settings for the inference
// service. PremiumModel is the identifier eligible for quota fallback;
// FallbackModel is substituted when the premium model's quota is
// exhausted.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key" yaml:"-"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	PremiumModel    string        `mapstructure:"premium_model" yaml:"premium_model"`
	FallbackModel   string        `mapstructure:"fallback_model" yaml:"fallback_model"`
	APITimeout      time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature     float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	BackoffJitter   time.Duration `mapstructure:"backoff_jitter" yaml:"backoff_jitter"`
}

// SetDefaults initializes default values for the configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "bugreel")
	v.SetDefault("logger.log_file", "bugreel.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.premium_model", "gemini-2.5-pro")
	v.SetDefault("llm.fallback_model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_output_tokens", 8192)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.initial_backoff", "1s")
	v.SetDefault("llm.backoff_jitter", "500ms")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind the environment variable for the credential.
	v.BindEnv("llm.api_key", APIKeyEnvVar)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// The API key is deliberately NOT validated here: its absence is reported
// at client construction so config loading still works for commands that
// never dispatch (e.g. version).
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the LLM configuration.
func (l *LLMConfig) Validate() error {
	if l.PremiumModel == "" || l.FallbackModel == "" {
		return fmt.Errorf("llm.premium_model and llm.fallback_model are required")
	}
	if l.MaxAttempts <= 0 {
		return fmt.Errorf("llm.max_attempts must be a positive integer")
	}
	if l.InitialBackoff <= 0 {
		return fmt.Errorf("llm.initial_backoff must be a positive duration")
	}
	if l.BackoffJitter < 0 {
		return fmt.Errorf("llm.backoff_jitter must not be negative")
	}
	if l.Temperature < 0.0 || l.Temperature > 2.0 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0")
	}
	return nil
}
