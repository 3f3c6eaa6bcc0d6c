package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Completion CompletionConfig `yaml:"completion"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Document   DocumentConfig   `yaml:"document"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// CompletionConfig holds completion endpoint settings.
type CompletionConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// LongContextModel is tried once when the default model's context window
	// is exceeded. Empty disables the fallback.
	LongContextModel string        `yaml:"long_context_model"`
	MaxTokens        int           `yaml:"max_tokens"`
	ConnTimeout      time.Duration `yaml:"conn_timeout"`
	RespTimeout      time.Duration `yaml:"resp_timeout"`
	Retry            RetryConfig   `yaml:"retry"`
	Breaker          BreakerConfig `yaml:"breaker"`
	Pool             PoolConfig    `yaml:"pool"`
}

// RetryConfig controls transient-error retries on completion calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// BreakerConfig configures the completion circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure
	// counts. If 0, failures never reset until the circuit opens.
	Interval time.Duration `yaml:"interval"`
}

// PoolConfig configures HTTP connection pooling for the completion client.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// AssistantConfig holds conversation loop settings.
type AssistantConfig struct {
	// MaxToolCalls bounds tool-call rounds per turn (circuit breaker against
	// runaway chains).
	MaxToolCalls  int    `yaml:"max_tool_calls"`
	PromptVersion string `yaml:"prompt_version"`
	// PromptTokenBudget switches to the long-context model up front when the
	// built prompt is estimated to exceed it. 0 disables the estimate.
	PromptTokenBudget int `yaml:"prompt_token_budget"`
}

// DocumentConfig holds document store settings.
type DocumentConfig struct {
	// Path is the SQLite database file; empty means in-memory.
	Path string `yaml:"path"`
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Addr      string          `yaml:"addr"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles assistance requests per conversation.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Completion: CompletionConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			MaxTokens:   3000,
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				Backoff:     time.Second,
			},
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Assistant: AssistantConfig{
			MaxToolCalls:  10,
			PromptVersion: "v1",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8484",
			RateLimit: RateLimitConfig{
				RPS:   1,
				Burst: 5,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides,
// and validates the result. A missing file is not an error: defaults plus
// environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps GRIDASSIST_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRIDASSIST_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("GRIDASSIST_BASE_URL"); v != "" {
		cfg.Completion.BaseURL = v
	}
	if v := os.Getenv("GRIDASSIST_MODEL"); v != "" {
		cfg.Completion.Model = v
	}
	if v := os.Getenv("GRIDASSIST_LONG_CONTEXT_MODEL"); v != "" {
		cfg.Completion.LongContextModel = v
	}
	if v := os.Getenv("GRIDASSIST_MAX_TOOL_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Assistant.MaxToolCalls = n
		}
	}
	if v := os.Getenv("GRIDASSIST_DOCUMENT_PATH"); v != "" {
		cfg.Document.Path = v
	}
	if v := os.Getenv("GRIDASSIST_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("GRIDASSIST_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GRIDASSIST_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("GRIDASSIST_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Validate checks configuration invariants.
func Validate(cfg *Config) error {
	if cfg.Completion.BaseURL == "" {
		return fmt.Errorf("completion.base_url is required")
	}
	if cfg.Completion.Model == "" {
		return fmt.Errorf("completion.model is required")
	}
	if cfg.Completion.Retry.MaxAttempts < 1 {
		return fmt.Errorf("completion.retry.max_attempts must be >= 1, got %d", cfg.Completion.Retry.MaxAttempts)
	}
	if cfg.Completion.Retry.Backoff < 0 {
		return fmt.Errorf("completion.retry.backoff must be >= 0")
	}
	if cfg.Assistant.MaxToolCalls < 1 {
		return fmt.Errorf("assistant.max_tool_calls must be >= 1, got %d", cfg.Assistant.MaxToolCalls)
	}
	switch cfg.Logger.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logger.level %q is not a valid level", cfg.Logger.Level)
	}
	switch cfg.Tracer.Exporter {
	case "", "stdout", "noop":
	default:
		return fmt.Errorf("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
	if cfg.Gateway.RateLimit.RPS < 0 {
		return fmt.Errorf("gateway.rate_limit.rps must be >= 0")
	}
	return nil
}
