package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 500, cfg.Retrieval.ChunkSize)
	assert.Equal(t, 100, cfg.Retrieval.ChunkOverlap)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window.Duration)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Duration)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.False(t, cfg.UsesPostgres())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "decisiondesk.yaml", `
environment: production
server:
  port: 9090
llm:
  provider: groq
  timeout: "45s"
  max_retries: 1
rate_limit:
  requests: 5
  window: "10s"
cache:
  ttl: "600"
audit:
  backend: memory
`)
	cfg := Default()
	require.NoError(t, cfg.loadFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "groq", cfg.LLM.Provider)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout.Duration)
	assert.Equal(t, 1, cfg.LLM.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL.Duration)
	assert.Equal(t, "memory", cfg.Audit.Backend)
	assert.Equal(t, 0.3, cfg.LLM.Temperature, "unset keys keep their defaults")
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "decisiondesk.toml", `
[retrieval]
index = "memory"
embedder = "hash"
top_k = 5
min_relevance = 0.1

[storage]
type = "s3"
s3_bucket = "decision-exports"
s3_region = "eu-west-1"

[cache]
ttl = "2h"
`)
	cfg := Default()
	require.NoError(t, cfg.loadFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 0.1, cfg.Retrieval.MinRelevance)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "decision-exports", cfg.Storage.S3Bucket)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL.Duration)
}

func TestLoadFile_Errors(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.loadFile(filepath.Join(t.TempDir(), "missing.yaml")), "failed to read config")
	assert.ErrorContains(t, cfg.loadFile(writeFile(t, "c.json", "{}")), "unsupported config file type")
	assert.ErrorContains(t, cfg.loadFile(writeFile(t, "c.yaml", "llm: [")), "failed to parse config")
	assert.Error(t, cfg.loadFile(writeFile(t, "c.toml", "[cache]\nttl = \"soon\"")))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":                    "7000",
		"LLM_PROVIDER":            "NONE",
		"GEMINI_API_KEY":          "secret",
		"RATE_LIMIT_REQUESTS":     "3",
		"RATE_LIMIT_WINDOW":       "2m",
		"CACHE_TTL":               "3600",
		"RETRIEVAL_MIN_RELEVANCE": "0.25",
		"AUDIT_BACKEND":           "postgres",
		"DATABASE_URL":            "postgres://localhost/decisions",
		"AWS_S3_BUCKET":           "  ",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.Equal(t, "secret", cfg.LLM.GeminiAPIKey)
	assert.Equal(t, 3, cfg.RateLimit.Requests)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Window.Duration)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Duration)
	assert.Equal(t, 0.25, cfg.Retrieval.MinRelevance)
	assert.True(t, cfg.UsesPostgres())
	assert.Empty(t, cfg.Storage.S3Bucket, "blank variables are ignored")
}

func TestApplyEnv_ReportsEveryBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":            "eighty",
		"LLM_TEMPERATURE": "warm",
		"CACHE_TTL":       "forever",
	}))

	require.Error(t, err)
	assert.ErrorContains(t, err, "PORT must be an integer")
	assert.ErrorContains(t, err, "LLM_TEMPERATURE must be a number")
	assert.ErrorContains(t, err, "CACHE_TTL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, "LLM.Provider"},
		{"top k too large", func(c *Config) { c.Retrieval.TopK = 50 }, "Retrieval.TopK"},
		{"overlap not below size", func(c *Config) { c.Retrieval.ChunkOverlap = 500 }, "Retrieval.ChunkOverlap"},
		{"thresholds inverted", func(c *Config) { c.Confidence.RelevantThreshold = 0.9 }, "Confidence.RelevantThreshold"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, "Storage.S3Bucket"},
		{"zero window", func(c *Config) { c.RateLimit.Window = Duration{} }, "rate_limit.window must be positive"},
		{"postgres without url", func(c *Config) { c.Retrieval.Index = "postgres" }, "DATABASE_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS", "7")
	path := writeFile(t, "c.yaml", "rate_limit:\n  requests: 3\nlogging:\n  format: console\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RateLimit.Requests, "environment wins over the file")
	assert.Equal(t, "console", cfg.Logging.Format)

	t.Setenv("LLM_PROVIDER", "bard")
	_, err = Load("")
	assert.Error(t, err)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("ninety")))
}
