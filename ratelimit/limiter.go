// Package ratelimit bounds how many decision requests each caller may make
// within a fixed time window.
package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultKey is the bucket used for requests without a caller identity
const DefaultKey = "anonymous"

// Defaults
const (
	DefaultRequests = 100
	DefaultWindow   = 60 * time.Second
	DefaultMaxKeys  = 10000
)

// ErrLimitExceeded matches every *LimitError via errors.Is
var ErrLimitExceeded = errors.New("rate limit exceeded")

// LimitError is returned when a caller has used up its window
type LimitError struct {
	Key        string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for caller %q: at most %d requests per %s are allowed; retry after %s",
		e.Key, e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrLimitExceeded) match
func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// Config configures a Limiter
type Config struct {
	// Requests is the maximum number of requests per caller per window
	Requests int
	// Window is the length of each counting window
	Window time.Duration
	// MaxKeys bounds how many callers are tracked at once
	MaxKeys int
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window request counter keyed by caller
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows *lru.Cache[string, *window]
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter. Zero config fields take the defaults.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Requests <= 0 {
		cfg.Requests = DefaultRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}

	windows, err := lru.New[string, *window](cfg.MaxKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter key cache: %w", err)
	}

	l := &Limiter{cfg: cfg, now: time.Now, windows: windows}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the effective configuration
func (l *Limiter) Config() Config {
	return l.cfg
}

// Allow counts one request for key. It returns a *LimitError when the
// caller's window is already full; the request is then not counted.
func (l *Limiter) Allow(key string) error {
	key = normalizeKey(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(key, now)
	if w.count >= l.cfg.Requests {
		return &LimitError{
			Key:        key,
			Limit:      l.cfg.Requests,
			Window:     l.cfg.Window,
			RetryAfter: w.start.Add(l.cfg.Window).Sub(now),
		}
	}
	w.count++
	return nil
}

// Remaining reports how many requests key may still make in its window
func (l *Limiter) Remaining(key string) int {
	key = normalizeKey(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cfg.Requests - l.current(key, now).count
}

// Reset forgets the window of key, or of every caller when key is empty
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if key == "" {
		l.windows.Purge()
		return
	}
	l.windows.Remove(key)
}

// current returns the live window for key, starting a new one if needed.
// Callers hold l.mu.
func (l *Limiter) current(key string, now time.Time) *window {
	w, ok := l.windows.Get(key)
	if !ok || !now.Before(w.start.Add(l.cfg.Window)) {
		w = &window{start: now}
		l.windows.Add(key, w)
	}
	return w
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return DefaultKey
	}
	return key
}
