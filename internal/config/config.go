// Package config loads service configuration from defaults, an optional YAML
// file, and environment overrides, in that order. The resulting Config is
// built once at startup and passed explicitly to collaborators; nothing in
// this package keeps global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviders enumerates the supported chat-model providers.
var ValidProviders = []string{"mock", "openai", "anthropic", "gemini"}

// Config is the full service configuration.
type Config struct {
	AppName string `yaml:"app_name"`

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Query     QueryConfig     `yaml:"query"`
	RAG       RAGConfig       `yaml:"rag"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Voice     VoiceConfig     `yaml:"voice"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// StorageConfig controls the SQLite file and upload bounds.
type StorageConfig struct {
	Path        string `yaml:"path"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// LLMConfig controls provider selection, pricing, and budget caps.
type LLMConfig struct {
	Provider                  string  `yaml:"provider"`
	Enabled                   bool    `yaml:"enabled"`
	APIKey                    string  `yaml:"api_key"`
	BaseURL                   string  `yaml:"base_url"`
	ModelDefault              string  `yaml:"model_default"`
	ModelCheap                string  `yaml:"model_cheap"`
	ModelExpensive            string  `yaml:"model_expensive"`
	PricePromptPer1K          float64 `yaml:"price_prompt_per_1k"`
	PriceCompletionPer1K      float64 `yaml:"price_completion_per_1k"`
	EstimatedCompletionTokens int     `yaml:"estimated_completion_tokens"`
	MaxUSDPerRequest          float64 `yaml:"max_usd_per_request"`
	MaxUSDPerDay              float64 `yaml:"max_usd_per_day"`
	TimeoutSeconds            float64 `yaml:"timeout_seconds"`
}

// QueryConfig bounds planned-query execution.
type QueryConfig struct {
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	MaxRows        int     `yaml:"max_rows"`
	MaxPerRequest  int     `yaml:"max_per_request"`
}

// RAGConfig controls context chunking and retrieval.
type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
	WatchDir     string `yaml:"watch_dir"`
}

// CacheConfig controls the ask response cache. A TTL of 0 disables it.
type CacheConfig struct {
	AskTTLSeconds int `yaml:"ask_ttl_seconds"`
}

// RateLimitConfig holds fixed-window limits. Values <= 0 disable a bucket.
type RateLimitConfig struct {
	AskPerMinute   int `yaml:"ask_per_minute"`
	AskPerHour     int `yaml:"ask_per_hour"`
	VoicePerMinute int `yaml:"voice_per_minute"`
	VoicePerHour   int `yaml:"voice_per_hour"`
}

// VoiceConfig controls the ElevenLabs proxy endpoints.
type VoiceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"elevenlabs_api_key"`
	VoiceID  string `yaml:"voice_id"`
	TTSModel string `yaml:"tts_model"`
	STTModel string `yaml:"stt_model"`
}

// LoggingConfig mirrors the knobs consumed by internal/logging.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Dir        string          `yaml:"dir"`
	Level      string          `yaml:"level"`
	JSON       bool            `yaml:"json"`
	Categories map[string]bool `yaml:"categories"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		AppName: "data-ghost-api",
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			CORSAllowOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Path:        "data/dataghost.db",
			MaxUploadMB: 20,
		},
		LLM: LLMConfig{
			Provider:                  "mock",
			Enabled:                   true,
			ModelDefault:              "mock-default",
			ModelCheap:                "mock-cheap",
			ModelExpensive:            "mock-expensive",
			PricePromptPer1K:          0.001,
			PriceCompletionPer1K:      0.002,
			EstimatedCompletionTokens: 600,
			MaxUSDPerRequest:          0.50,
			MaxUSDPerDay:              10.0,
			TimeoutSeconds:            60,
		},
		Query: QueryConfig{
			TimeoutSeconds: 5,
			MaxRows:        5000,
			MaxPerRequest:  10,
		},
		RAG: RAGConfig{
			ChunkSize:    800,
			ChunkOverlap: 100,
			TopK:         5,
		},
		Cache: CacheConfig{
			AskTTLSeconds: 600,
		},
		RateLimit: RateLimitConfig{
			AskPerMinute:   30,
			AskPerHour:     300,
			VoicePerMinute: 10,
			VoicePerHour:   100,
		},
		Voice: VoiceConfig{
			Enabled:  false,
			VoiceID:  "21m00Tcm4TlvDq8ikWAM",
			TTSModel: "eleven_turbo_v2",
			STTModel: "scribe_v1",
		},
		Logging: LoggingConfig{
			Debug: false,
			Dir:   "data/logs",
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (ignored when
// path is empty or missing), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if uerr := yaml.Unmarshal(data, cfg); uerr != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, uerr)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, mostly for init-style tooling.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides layers environment variables over the loaded values.
// Names match the original deployment environment, so operational scripts
// keep working unchanged.
func (c *Config) applyEnvOverrides() {
	envString(&c.Server.Host, "DATAGHOST_HOST")
	envInt(&c.Server.Port, "DATAGHOST_PORT")

	envString(&c.Storage.Path, "DATAGHOST_DB_PATH")
	envInt(&c.Storage.MaxUploadMB, "MAX_UPLOAD_MB")

	envString(&c.LLM.Provider, "LLM_PROVIDER")
	envBool(&c.LLM.Enabled, "LLM_ENABLED")
	envString(&c.LLM.APIKey, "LLM_API_KEY")
	envString(&c.LLM.BaseURL, "LLM_BASE_URL")
	envString(&c.LLM.ModelDefault, "LLM_MODEL_DEFAULT")
	envString(&c.LLM.ModelCheap, "LLM_MODEL_CHEAP")
	envString(&c.LLM.ModelExpensive, "LLM_MODEL_EXPENSIVE")
	envFloat(&c.LLM.PricePromptPer1K, "LLM_PRICE_PROMPT_PER_1K")
	envFloat(&c.LLM.PriceCompletionPer1K, "LLM_PRICE_COMPLETION_PER_1K")
	envInt(&c.LLM.EstimatedCompletionTokens, "LLM_ESTIMATED_COMPLETION_TOKENS")
	envFloat(&c.LLM.MaxUSDPerRequest, "LLM_MAX_USD_PER_REQUEST")
	envFloat(&c.LLM.MaxUSDPerDay, "LLM_MAX_USD_PER_DAY")
	envFloat(&c.LLM.TimeoutSeconds, "LLM_TIMEOUT_SECONDS")

	envFloat(&c.Query.TimeoutSeconds, "QUERY_TIMEOUT_SECONDS")
	envInt(&c.Query.MaxRows, "QUERY_MAX_ROWS")
	envInt(&c.Query.MaxPerRequest, "QUERY_MAX_PER_REQUEST")

	envInt(&c.RAG.ChunkSize, "RAG_CHUNK_SIZE")
	envInt(&c.RAG.ChunkOverlap, "RAG_CHUNK_OVERLAP")
	envInt(&c.RAG.TopK, "RAG_TOP_K")
	envString(&c.RAG.WatchDir, "RAG_WATCH_DIR")

	envInt(&c.Cache.AskTTLSeconds, "ASK_CACHE_TTL_SECONDS")

	envInt(&c.RateLimit.AskPerMinute, "ASK_RATE_LIMIT_PER_MINUTE")
	envInt(&c.RateLimit.AskPerHour, "ASK_RATE_LIMIT_PER_HOUR")
	envInt(&c.RateLimit.VoicePerMinute, "VOICE_RATE_LIMIT_PER_MINUTE")
	envInt(&c.RateLimit.VoicePerHour, "VOICE_RATE_LIMIT_PER_HOUR")

	envBool(&c.Voice.Enabled, "VOICE_ENABLED")
	envString(&c.Voice.APIKey, "ELEVENLABS_API_KEY")
	envString(&c.Voice.VoiceID, "ELEVENLABS_VOICE_ID")
	envString(&c.Voice.TTSModel, "ELEVENLABS_TTS_MODEL")
	envString(&c.Voice.STTModel, "ELEVENLABS_STT_MODEL")

	envBool(&c.Logging.Debug, "DATAGHOST_DEBUG")
	envString(&c.Logging.Dir, "DATAGHOST_LOG_DIR")
	envString(&c.Logging.Level, "DATAGHOST_LOG_LEVEL")
}

// Validate rejects configurations the pipeline cannot run under.
func (c *Config) Validate() error {
	providerOK := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			providerOK = true
			break
		}
	}
	if !providerOK {
		return fmt.Errorf("llm.provider %q not in %s", c.LLM.Provider, strings.Join(ValidProviders, "|"))
	}
	if c.Query.TimeoutSeconds <= 0 {
		return fmt.Errorf("query.timeout_seconds must be positive, got %v", c.Query.TimeoutSeconds)
	}
	if c.Query.MaxRows <= 0 {
		return fmt.Errorf("query.max_rows must be positive, got %d", c.Query.MaxRows)
	}
	if c.Query.MaxPerRequest <= 0 {
		return fmt.Errorf("query.max_per_request must be positive, got %d", c.Query.MaxPerRequest)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.Storage.MaxUploadMB <= 0 {
		return fmt.Errorf("storage.max_upload_mb must be positive, got %d", c.Storage.MaxUploadMB)
	}
	if c.Cache.AskTTLSeconds < 0 {
		return fmt.Errorf("cache.ask_ttl_seconds must be >= 0, got %d", c.Cache.AskTTLSeconds)
	}
	return nil
}

// QueryTimeout returns the per-query wall-clock bound.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Query.TimeoutSeconds * float64(time.Second))
}

// LLMTimeout returns the outer deadline applied to provider HTTP calls.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds * float64(time.Second))
}

// AskCacheTTL returns the response-cache lifetime; zero disables caching.
func (c *Config) AskCacheTTL() time.Duration {
	return time.Duration(c.Cache.AskTTLSeconds) * time.Second
}

// MaxUploadBytes returns the upload size cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Storage.MaxUploadMB) * 1024 * 1024
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}
