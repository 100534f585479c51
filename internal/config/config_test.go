package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AppName != "data-ghost-api" {
		t.Errorf("app_name = %q", cfg.AppName)
	}
	if cfg.LLM.Provider != "mock" || !cfg.LLM.Enabled {
		t.Errorf("llm defaults wrong: %+v", cfg.LLM)
	}
	if cfg.Query.TimeoutSeconds != 5 || cfg.Query.MaxRows != 5000 || cfg.Query.MaxPerRequest != 10 {
		t.Errorf("query defaults wrong: %+v", cfg.Query)
	}
	if cfg.RAG.ChunkSize != 800 || cfg.RAG.ChunkOverlap != 100 || cfg.RAG.TopK != 5 {
		t.Errorf("rag defaults wrong: %+v", cfg.RAG)
	}
	if cfg.Cache.AskTTLSeconds != 600 {
		t.Errorf("cache default wrong: %+v", cfg.Cache)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
llm:
  provider: anthropic
  enabled: true
  model_cheap: claude-cheap
query:
  timeout_seconds: 2.5
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("QUERY_MAX_ROWS", "100")
	t.Setenv("LLM_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("env should override yaml, got provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Enabled {
		t.Error("LLM_ENABLED=false should disable llm")
	}
	if cfg.LLM.ModelCheap != "claude-cheap" {
		t.Errorf("yaml value lost: %q", cfg.LLM.ModelCheap)
	}
	if cfg.Query.MaxRows != 100 {
		t.Errorf("QUERY_MAX_ROWS override lost: %d", cfg.Query.MaxRows)
	}
	if got := cfg.QueryTimeout(); got != 2500*time.Millisecond {
		t.Errorf("QueryTimeout = %v", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Query.MaxRows != 5000 {
		t.Errorf("defaults not applied: %d", cfg.Query.MaxRows)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.LLM.Provider = "bard" },
		func(c *Config) { c.Query.TimeoutSeconds = 0 },
		func(c *Config) { c.Query.MaxRows = -1 },
		func(c *Config) { c.Query.MaxPerRequest = 0 },
		func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize },
		func(c *Config) { c.RAG.TopK = 0 },
		func(c *Config) { c.Storage.MaxUploadMB = 0 },
		func(c *Config) { c.Cache.AskTTLSeconds = -5 },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestRateLimitEnvOverrides(t *testing.T) {
	t.Setenv("ASK_RATE_LIMIT_PER_MINUTE", "1")
	t.Setenv("ASK_RATE_LIMIT_PER_HOUR", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimit.AskPerMinute != 1 {
		t.Errorf("ask_per_minute = %d", cfg.RateLimit.AskPerMinute)
	}
	if cfg.RateLimit.AskPerHour != 0 {
		t.Errorf("ask_per_hour = %d, want 0 (disabled)", cfg.RateLimit.AskPerHour)
	}
}
