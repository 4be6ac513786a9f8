// Package config handles configuration management with validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration structure loaded at process start.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Refresher RefresherConfig `yaml:"refresher"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	EngineType  string `yaml:"engine_type" validate:"required,oneof=simple dbos"`
	DatabaseURL string `yaml:"database_url"` // required when engine_type=dbos
	LedgerPath  string `yaml:"ledger_path"`  // sqlite file path for the ledger store
}

// ExchangeConfig holds exchange connectivity and credential settings.
// Maps to spec.md §6's "exchangeRequestTimeout" plus the credential pair.
type ExchangeConfig struct {
	Name                   string  `yaml:"name" validate:"required"`
	APIKey                 Secret  `yaml:"api_key" validate:"required"`
	APISecret              Secret  `yaml:"api_secret" validate:"required"`
	BaseURL                string  `yaml:"base_url"`
	RequestTimeoutSeconds  int     `yaml:"exchange_request_timeout_seconds" validate:"min=1,max=120"`
	FeeBuffer              float64 `yaml:"fee_buffer" validate:"min=0,max=1"`
	RateLimitPerSecond     float64 `yaml:"rate_limit_per_second" validate:"min=0"`
	RateLimitBurst         int     `yaml:"rate_limit_burst" validate:"min=1"`
	CredentialCacheTTLSecs int     `yaml:"credential_cache_ttl_seconds" validate:"min=1"`
}

func (c ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c ExchangeConfig) CredentialCacheTTL() time.Duration {
	return time.Duration(c.CredentialCacheTTLSecs) * time.Second
}

// SchedulerConfig configures the bot scheduler (C5).
type SchedulerConfig struct {
	PeriodSeconds     int `yaml:"scheduler_period_seconds" validate:"min=1"`
	Concurrency       int `yaml:"scheduler_concurrency" validate:"min=1,max=256"`
	RunTimeoutSeconds int `yaml:"run_timeout_seconds" validate:"min=1"`
}

func (c SchedulerConfig) Period() time.Duration     { return time.Duration(c.PeriodSeconds) * time.Second }
func (c SchedulerConfig) RunTimeout() time.Duration { return time.Duration(c.RunTimeoutSeconds) * time.Second }

// ExecutorConfig configures the order queue executor (C6).
type ExecutorConfig struct {
	PeriodSeconds       int     `yaml:"executor_period_seconds" validate:"min=1"`
	MaxPerTick          int     `yaml:"executor_max_per_tick" validate:"min=1"`
	StuckTimeoutSeconds int     `yaml:"executor_stuck_timeout_seconds" validate:"min=1"`
	MaxAttempts         int     `yaml:"max_attempts" validate:"min=1"`
	BackoffBaseSeconds  float64 `yaml:"backoff_base_seconds" validate:"min=0"`
	BackoffFactor       float64 `yaml:"backoff_factor" validate:"min=1"`
	BackoffCapSeconds   float64 `yaml:"backoff_cap_seconds" validate:"min=0"`
}

func (c ExecutorConfig) Period() time.Duration { return time.Duration(c.PeriodSeconds) * time.Second }
func (c ExecutorConfig) StuckTimeout() time.Duration {
	return time.Duration(c.StuckTimeoutSeconds) * time.Second
}
func (c ExecutorConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds * float64(time.Second))
}
func (c ExecutorConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds * float64(time.Second))
}

// RefresherConfig configures the market data refresher (C7).
type RefresherConfig struct {
	PeriodSeconds         int `yaml:"refresher_period_seconds" validate:"min=1"`
	StaleThresholdSeconds int `yaml:"stale_threshold_seconds" validate:"min=1"`
}

func (c RefresherConfig) Period() time.Duration { return time.Duration(c.PeriodSeconds) * time.Second }
func (c RefresherConfig) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdSeconds) * time.Second
}

// AnalysisConfig points at the technical-analysis provider the refresher
// consults for trend/support/resistance data.
type AnalysisConfig struct {
	ProviderURL string `yaml:"provider_url" validate:"required"`
}

// SystemConfig contains general system settings.
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// TelemetryConfig contains observability toggles.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment
// variable expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateApp(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() error {
	if c.App.EngineType != "simple" && c.App.EngineType != "dbos" {
		return ValidationError{Field: "app.engine_type", Value: c.App.EngineType, Message: "must be one of: simple, dbos"}
	}
	if c.App.EngineType == "dbos" && c.App.DatabaseURL == "" {
		return ValidationError{Field: "app.database_url", Message: "database_url is required when engine_type is 'dbos'"}
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.APIKey == "" {
		return ValidationError{Field: "exchange.api_key", Message: "API key is required"}
	}
	if c.Exchange.APISecret == "" {
		return ValidationError{Field: "exchange.api_secret", Message: "API secret is required"}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns a YAML representation of the configuration with secrets
// redacted via the Secret type's MarshalYAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the configuration defaults named in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			EngineType: "simple",
			LedgerPath: "dcabot.db",
		},
		Exchange: ExchangeConfig{
			Name:                   "kraken",
			BaseURL:                "https://api.kraken.com",
			RequestTimeoutSeconds:  15,
			FeeBuffer:              0.002,
			RateLimitPerSecond:     1,
			RateLimitBurst:         3,
			CredentialCacheTTLSecs: 300,
		},
		Scheduler: SchedulerConfig{
			PeriodSeconds:     300,
			Concurrency:       8,
			RunTimeoutSeconds: 240,
		},
		Executor: ExecutorConfig{
			PeriodSeconds:       60,
			MaxPerTick:          20,
			StuckTimeoutSeconds: 600,
			MaxAttempts:         8,
			BackoffBaseSeconds:  10,
			BackoffFactor:       2,
			BackoffCapSeconds:   600,
		},
		Refresher: RefresherConfig{
			PeriodSeconds:         60,
			StaleThresholdSeconds: 180,
		},
		Analysis: AnalysisConfig{
			ProviderURL: "http://localhost:8091",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
			EnableTracing: true,
		},
	}
}
