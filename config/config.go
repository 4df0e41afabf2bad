// Package config loads server and CLI settings from defaults, an optional
// YAML or TOML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from text such as "30s" or "1h".
// A bare integer is taken as seconds.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (use a number of seconds or a value like 30s, 5m, 1h)", s)
	}
	return d, nil
}

// Config represents the application configuration
type Config struct {
	Environment string           `yaml:"environment" toml:"environment" validate:"oneof=development production"`
	Server      ServerConfig     `yaml:"server" toml:"server"`
	Logging     LoggingConfig    `yaml:"logging" toml:"logging"`
	Database    DatabaseConfig   `yaml:"database" toml:"database"`
	LLM         LLMConfig        `yaml:"llm" toml:"llm"`
	Retrieval   RetrievalConfig  `yaml:"retrieval" toml:"retrieval"`
	Confidence  ConfidenceConfig `yaml:"confidence" toml:"confidence"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Cache       CacheConfig      `yaml:"cache" toml:"cache"`
	Audit       AuditConfig      `yaml:"audit" toml:"audit"`
	Storage     StorageConfig    `yaml:"storage" toml:"storage"`
}

type ServerConfig struct {
	Port            int      `yaml:"port" toml:"port" validate:"min=1,max=65535"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=json console"`
}

type DatabaseConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// LLMConfig selects and bounds the generative backend
type LLMConfig struct {
	Provider        string   `yaml:"provider" toml:"provider" validate:"oneof=gemini groq none"`
	Model           string   `yaml:"model" toml:"model"`
	GeminiAPIKey    string   `yaml:"gemini_api_key" toml:"gemini_api_key"`
	GroqAPIKey      string   `yaml:"groq_api_key" toml:"groq_api_key"`
	GroqBaseURL     string   `yaml:"groq_base_url" toml:"groq_base_url" validate:"omitempty,url"`
	Temperature     float64  `yaml:"temperature" toml:"temperature" validate:"min=0,max=2"`
	MaxOutputTokens int      `yaml:"max_output_tokens" toml:"max_output_tokens" validate:"min=1,max=32768"`
	Timeout         Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries      int      `yaml:"max_retries" toml:"max_retries" validate:"min=0,max=10"`
	RetryBackoff    Duration `yaml:"retry_backoff" toml:"retry_backoff"`
	// RequestsPerSecond throttles calls to the backend; zero disables throttling
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" toml:"burst" validate:"min=0"`
	MaxPolicyChars    int     `yaml:"max_policy_chars" toml:"max_policy_chars" validate:"min=100"`
}

// RetrievalConfig configures the policy index
type RetrievalConfig struct {
	Index          string  `yaml:"index" toml:"index" validate:"oneof=memory postgres"`
	Embedder       string  `yaml:"embedder" toml:"embedder" validate:"oneof=gemini hash"`
	EmbeddingModel string  `yaml:"embedding_model" toml:"embedding_model"`
	Dimensions     int     `yaml:"dimensions" toml:"dimensions" validate:"min=8,max=4096"`
	TopK           int     `yaml:"top_k" toml:"top_k" validate:"min=1,max=20"`
	MinRelevance   float64 `yaml:"min_relevance" toml:"min_relevance" validate:"min=0,max=1"`
	ChunkSize      int     `yaml:"chunk_size" toml:"chunk_size" validate:"min=100,max=10000"`
	ChunkOverlap   int     `yaml:"chunk_overlap" toml:"chunk_overlap" validate:"min=0,ltfield=ChunkSize"`
	PolicyDir      string  `yaml:"policy_dir" toml:"policy_dir"`
}

type ConfidenceConfig struct {
	HighThreshold     float64 `yaml:"high_threshold" toml:"high_threshold" validate:"gt=0,max=1"`
	RelevantThreshold float64 `yaml:"relevant_threshold" toml:"relevant_threshold" validate:"gt=0,max=1,ltefield=HighThreshold"`
}

type RateLimitConfig struct {
	Requests int      `yaml:"requests" toml:"requests" validate:"min=1"`
	Window   Duration `yaml:"window" toml:"window"`
	MaxKeys  int      `yaml:"max_keys" toml:"max_keys" validate:"min=1"`
}

type CacheConfig struct {
	TTL        Duration `yaml:"ttl" toml:"ttl"`
	MaxEntries int      `yaml:"max_entries" toml:"max_entries" validate:"min=1"`
}

// AuditConfig selects the decision ledger
type AuditConfig struct {
	Backend    string `yaml:"backend" toml:"backend" validate:"oneof=memory sqlite postgres"`
	SQLitePath string `yaml:"sqlite_path" toml:"sqlite_path" validate:"required_if=Backend sqlite"`
}

// StorageConfig selects where exported reports are written
type StorageConfig struct {
	Type         string `yaml:"type" toml:"type" validate:"oneof=local s3"`
	LocalPath    string `yaml:"local_path" toml:"local_path" validate:"required_if=Type local"`
	S3Bucket     string `yaml:"s3_bucket" toml:"s3_bucket" validate:"required_if=Type s3"`
	S3Region     string `yaml:"s3_region" toml:"s3_region"`
	S3Prefix     string `yaml:"s3_prefix" toml:"s3_prefix"`
	AWSAccessKey string `yaml:"-" toml:"-"`
	AWSSecretKey string `yaml:"-" toml:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		LLM: LLMConfig{
			Provider:          "gemini",
			Temperature:       0.3,
			MaxOutputTokens:   2048,
			Timeout:           Duration{30 * time.Second},
			MaxRetries:        2,
			RetryBackoff:      Duration{500 * time.Millisecond},
			RequestsPerSecond: 2,
			Burst:             4,
			MaxPolicyChars:    8000,
			GroqBaseURL:       "https://api.groq.com/openai/v1/chat/completions",
		},
		Retrieval: RetrievalConfig{
			Index:          "memory",
			Embedder:       "hash",
			EmbeddingModel: "text-embedding-004",
			Dimensions:     768,
			TopK:           3,
			MinRelevance:   0,
			ChunkSize:      500,
			ChunkOverlap:   100,
		},
		Confidence: ConfidenceConfig{
			HighThreshold:     0.75,
			RelevantThreshold: 0.2,
		},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   Duration{time.Minute},
			MaxKeys:  10000,
		},
		Cache: CacheConfig{
			TTL:        Duration{time.Hour},
			MaxEntries: 1000,
		},
		Audit: AuditConfig{
			Backend:    "sqlite",
			SQLitePath: "./data/audit.db",
		},
		Storage: StorageConfig{
			Type:      "local",
			LocalPath: "./storage/exports",
			S3Region:  "us-east-1",
		},
	}
}

// LoadDotEnv loads a .env file from the working directory or the project
// root (relative to cmd/<name>/). Variables already set are kept.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}
}

// Load builds the configuration: defaults, then the file at path (if any),
// then environment variables, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config file type %q (use .yaml, .yml or .toml)", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks every setting and reports all problems at once
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("config %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	positive := map[string]Duration{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"llm.timeout":             c.LLM.Timeout,
		"rate_limit.window":       c.RateLimit.Window,
		"cache.ttl":               c.Cache.TTL,
	}
	for name, d := range positive {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("config %s must be positive", name))
		}
	}
	if c.LLM.RetryBackoff.Duration < 0 {
		errs = append(errs, errors.New("config llm.retry_backoff must not be negative"))
	}
	if (c.Retrieval.Index == "postgres" || c.Audit.Backend == "postgres") && c.Database.URL == "" {
		errs = append(errs, errors.New("config database.url (DATABASE_URL) is required when a postgres backend is selected"))
	}

	return errors.Join(errs...)
}

// UsesPostgres reports whether any component needs the database
func (c *Config) UsesPostgres() bool {
	return c.Retrieval.Index == "postgres" || c.Audit.Backend == "postgres"
}
