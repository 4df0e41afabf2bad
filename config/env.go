package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type lookupFunc func(string) (string, bool)

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (r *envReader) get(name string) (string, bool) {
	v, ok := r.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *envReader) lower(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = strings.ToLower(v)
	}
}

func (r *envReader) int(name string, dst *int) {
	if v, ok := r.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", name, v))
			return
		}
		*dst = n
	}
}

func (r *envReader) float(name string, dst *float64) {
	if v, ok := r.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s must be a number, got %q", name, v))
			return
		}
		*dst = f
	}
}

func (r *envReader) duration(name string, dst *Duration) {
	if v, ok := r.get(name); ok {
		d, err := parseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		dst.Duration = d
	}
}

// applyEnv overrides settings from environment variables
func (c *Config) applyEnv(lookup lookupFunc) error {
	r := &envReader{lookup: lookup}

	r.lower("ENVIRONMENT", &c.Environment)
	r.int("PORT", &c.Server.Port)
	r.duration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	r.lower("LOG_LEVEL", &c.Logging.Level)
	r.lower("LOG_FORMAT", &c.Logging.Format)
	r.str("DATABASE_URL", &c.Database.URL)

	r.lower("LLM_PROVIDER", &c.LLM.Provider)
	r.str("LLM_MODEL", &c.LLM.Model)
	r.str("GEMINI_API_KEY", &c.LLM.GeminiAPIKey)
	r.str("GROQ_API_KEY", &c.LLM.GroqAPIKey)
	r.str("GROQ_BASE_URL", &c.LLM.GroqBaseURL)
	r.float("LLM_TEMPERATURE", &c.LLM.Temperature)
	r.int("LLM_MAX_OUTPUT_TOKENS", &c.LLM.MaxOutputTokens)
	r.duration("LLM_TIMEOUT", &c.LLM.Timeout)
	r.int("LLM_MAX_RETRIES", &c.LLM.MaxRetries)
	r.duration("LLM_RETRY_BACKOFF", &c.LLM.RetryBackoff)
	r.float("LLM_REQUESTS_PER_SECOND", &c.LLM.RequestsPerSecond)
	r.int("LLM_BURST", &c.LLM.Burst)
	r.int("LLM_MAX_POLICY_CHARS", &c.LLM.MaxPolicyChars)

	r.lower("RETRIEVAL_INDEX", &c.Retrieval.Index)
	r.lower("RETRIEVAL_EMBEDDER", &c.Retrieval.Embedder)
	r.str("RETRIEVAL_EMBEDDING_MODEL", &c.Retrieval.EmbeddingModel)
	r.int("RETRIEVAL_DIMENSIONS", &c.Retrieval.Dimensions)
	r.int("RETRIEVAL_TOP_K", &c.Retrieval.TopK)
	r.float("RETRIEVAL_MIN_RELEVANCE", &c.Retrieval.MinRelevance)
	r.int("RETRIEVAL_CHUNK_SIZE", &c.Retrieval.ChunkSize)
	r.int("RETRIEVAL_CHUNK_OVERLAP", &c.Retrieval.ChunkOverlap)
	r.str("RETRIEVAL_POLICY_DIR", &c.Retrieval.PolicyDir)

	r.float("CONFIDENCE_HIGH_THRESHOLD", &c.Confidence.HighThreshold)
	r.float("CONFIDENCE_RELEVANT_THRESHOLD", &c.Confidence.RelevantThreshold)

	r.int("RATE_LIMIT_REQUESTS", &c.RateLimit.Requests)
	r.duration("RATE_LIMIT_WINDOW", &c.RateLimit.Window)
	r.int("RATE_LIMIT_MAX_KEYS", &c.RateLimit.MaxKeys)

	r.duration("CACHE_TTL", &c.Cache.TTL)
	r.int("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)

	r.lower("AUDIT_BACKEND", &c.Audit.Backend)
	r.str("AUDIT_SQLITE_PATH", &c.Audit.SQLitePath)

	r.lower("STORAGE_TYPE", &c.Storage.Type)
	r.str("STORAGE_LOCAL_PATH", &c.Storage.LocalPath)
	r.str("AWS_S3_BUCKET", &c.Storage.S3Bucket)
	r.str("AWS_REGION", &c.Storage.S3Region)
	r.str("AWS_S3_PREFIX", &c.Storage.S3Prefix)
	r.str("AWS_ACCESS_KEY_ID", &c.Storage.AWSAccessKey)
	r.str("AWS_SECRET_ACCESS_KEY", &c.Storage.AWSSecretKey)

	return errors.Join(r.errs...)
}
