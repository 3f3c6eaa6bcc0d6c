package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Completion.Model != "gpt-4o" {
		t.Errorf("Model = %q", cfg.Completion.Model)
	}
	if cfg.Assistant.MaxToolCalls != 10 {
		t.Errorf("MaxToolCalls = %d", cfg.Assistant.MaxToolCalls)
	}
	if cfg.Completion.Retry.MaxAttempts != 3 || cfg.Completion.Retry.Backoff != time.Second {
		t.Errorf("Retry = %+v", cfg.Completion.Retry)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
completion:
  model: gpt-4.1
  long_context_model: gpt-4.1-long
assistant:
  max_tool_calls: 5
  prompt_token_budget: 6000
gateway:
  addr: 127.0.0.1:9999
  rate_limit:
    rps: 2
    burst: 10
`)
	t.Setenv("GRIDASSIST_API_KEY", "sk-test")
	t.Setenv("GRIDASSIST_MODEL", "gpt-4o-mini")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Environment wins over the file.
	if cfg.Completion.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", cfg.Completion.Model)
	}
	if cfg.Completion.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", cfg.Completion.APIKey)
	}
	if cfg.Completion.LongContextModel != "gpt-4.1-long" {
		t.Errorf("LongContextModel = %q", cfg.Completion.LongContextModel)
	}
	if cfg.Assistant.MaxToolCalls != 5 || cfg.Assistant.PromptTokenBudget != 6000 {
		t.Errorf("Assistant = %+v", cfg.Assistant)
	}
	if cfg.Gateway.Addr != "127.0.0.1:9999" || cfg.Gateway.RateLimit.Burst != 10 {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
	// Unset fields keep their defaults.
	if cfg.Completion.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("BaseURL = %q", cfg.Completion.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty model", func(c *Config) { c.Completion.Model = "" }},
		{"zero retry attempts", func(c *Config) { c.Completion.Retry.MaxAttempts = 0 }},
		{"zero tool calls", func(c *Config) { c.Assistant.MaxToolCalls = 0 }},
		{"bad log level", func(c *Config) { c.Logger.Level = "loud" }},
		{"bad tracer exporter", func(c *Config) { c.Tracer.Exporter = "jaeger" }},
		{"negative rps", func(c *Config) { c.Gateway.RateLimit.RPS = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate should reject this config")
			}
		})
	}

	if err := Validate(Defaults()); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "completion: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("Load should fail on malformed YAML")
	}
}
