// Package cache memoizes decision reports by a fingerprint of their inputs.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"decisiondesk-backend/models"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
)

// Defaults
const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

type fingerprintInput struct {
	Kind     models.InsightKind `json:"kind"`
	Insight  string             `json:"insight"`
	Policies []string           `json:"policies"`
	Question string             `json:"question"`
	Issues   []string           `json:"issues"`
}

// Fingerprint derives the cache key of a request. Policy order and
// surrounding whitespace do not change the key. The question is kept as
// written and normalization issues are included, since reports restate both.
func Fingerprint(insight models.InsightRecord, policies []string, question string) string {
	sorted := make([]string, 0, len(policies))
	for _, p := range policies {
		if p = strings.TrimSpace(p); p != "" {
			sorted = append(sorted, p)
		}
	}
	sort.Strings(sorted)

	issues := append([]string{}, insight.Issues...)
	sort.Strings(issues)

	kind := insight.Kind
	if !insight.IsStructured() {
		kind = models.InsightRaw
	}
	payload, _ := json.Marshal(fingerprintInput{
		Kind:     kind,
		Insight:  insight.CanonicalText(),
		Policies: sorted,
		Question: strings.TrimSpace(question),
		Issues:   issues,
	})
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Config configures a ResponseCache
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// Stats are cumulative counters
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// ResponseCache is a size-bounded TTL cache of reports. Expired entries are
// treated as misses and removed when next looked up.
type ResponseCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries *lru.Cache[string, models.CacheEntry]

	// mu serializes writers so an expiry removal never drops a fresher entry
	mu     sync.Mutex
	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a ResponseCache
type Option func(*ResponseCache)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

// New creates a cache. Zero config fields take the defaults.
func New(cfg Config, opts ...Option) (*ResponseCache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, models.CacheEntry](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	c := &ResponseCache{ttl: cfg.TTL, now: time.Now, entries: entries}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the configured entry lifetime
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the live entry for fingerprint
func (c *ResponseCache) Get(fingerprint string) (models.CacheEntry, bool) {
	entry, ok := c.entries.Get(fingerprint)
	if !ok {
		c.misses.Add(1)
		return models.CacheEntry{}, false
	}

	now := c.now()
	if !now.Before(entry.ExpiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries.Peek(fingerprint); ok && !now.Before(cur.ExpiresAt) {
			c.entries.Remove(fingerprint)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return models.CacheEntry{}, false
	}

	c.hits.Add(1)
	return entry, true
}

// Set stores a report under fingerprint and returns the stored entry
func (c *ResponseCache) Set(fingerprint string, sections models.ReportSections, assessment models.ConfidenceAssessment, mode models.EngineMode) models.CacheEntry {
	now := c.now()
	entry := models.CacheEntry{
		Fingerprint: fingerprint,
		Sections:    sections,
		Confidence:  assessment,
		EngineMode:  mode,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}
	if assessment.MissingFields != nil {
		entry.Confidence.MissingFields = append([]string(nil), assessment.MissingFields...)
	}

	c.mu.Lock()
	c.entries.Add(fingerprint, entry)
	c.mu.Unlock()
	return entry
}

// PurgeExpired removes every expired entry and returns how many were removed
func (c *ResponseCache) PurgeExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && !now.Before(e.ExpiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	c.entries.Purge()
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included
func (c *ResponseCache) Len() int {
	return c.entries.Len()
}

// Stats returns the hit and miss counters
func (c *ResponseCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.entries.Len()}
}
