// Package reasoning produces the four-section decision report, either from a
// generative backend or from deterministic rules.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"decisiondesk-backend/llm"
	"decisiondesk-backend/models"

	"go.uber.org/zap"
)

// Defaults
const (
	DefaultMaxRetries   = 2
	DefaultCallTimeout  = 30 * time.Second
	DefaultRetryBackoff = 500 * time.Millisecond
	maxBackoff          = 10 * time.Second
)

// ErrCallTimeout is recorded when a single generative call runs out of time
var ErrCallTimeout = errors.New("generative call timed out")

// Config bounds the generative path
type Config struct {
	// MaxRetries is how many times a failed call is retried
	MaxRetries int
	// CallTimeout limits each individual call
	CallTimeout time.Duration
	// RetryBackoff is the first delay between attempts; it doubles each retry
	RetryBackoff time.Duration
	// MaxPolicyChars caps policy text in the prompt
	MaxPolicyChars int
}

// DefaultConfig returns the default engine bounds
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		CallTimeout:    DefaultCallTimeout,
		RetryBackoff:   DefaultRetryBackoff,
		MaxPolicyChars: DefaultMaxPolicyChars,
	}
}

// Outcome is a complete report plus how it was produced
type Outcome struct {
	Sections       models.ReportSections
	Mode           models.EngineMode
	Attempts       int
	FallbackReason string
	// Stable is false when the outcome came from a transient failure and a
	// later attempt for the same inputs might produce a different report
	Stable bool
}

// Engine runs the generative path with bounded retries and falls back to
// rule-based synthesis whenever it cannot produce a well-formed report.
type Engine struct {
	backend llm.Backend
	cfg     Config
	logger  *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine. A nil backend makes every report rule-based.
func NewEngine(backend llm.Backend, cfg Config, opts ...Option) *Engine {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.MaxPolicyChars <= 0 {
		cfg.MaxPolicyChars = DefaultMaxPolicyChars
	}

	e := &Engine{backend: backend, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate always returns four non-empty sections
func (e *Engine) Generate(ctx context.Context, in Input) Outcome {
	if e.backend == nil {
		return e.stable(e.fallback(in, 0, "no generative backend configured"))
	}

	prompt := BuildPrompt(in, e.cfg.MaxPolicyChars)
	maxAttempts := e.cfg.MaxRetries + 1
	malformed := 0
	attempts := 0
	var lastErr error

	for attempts < maxAttempts {
		if attempts > 0 {
			if err := sleepCtx(ctx, e.backoff(attempts)); err != nil {
				return e.fallback(in, attempts, "request cancelled: "+err.Error())
			}
		}
		attempts++

		text, err := e.call(ctx, prompt)
		if err == nil {
			sections, perr := ParseSections(text)
			if perr == nil {
				sections.LimitationsConfidence += "\n\nAssessed confidence:\n" + in.Assessment.String()
				return Outcome{Sections: sections, Mode: models.EngineGenerative, Attempts: attempts, Stable: true}
			}
			malformed++
			lastErr = perr
			e.logger.Warn("generated output rejected",
				zap.Int("attempt", attempts), zap.Error(perr))
			if malformed > 1 {
				return e.fallback(in, attempts, "generated output malformed twice: "+perr.Error())
			}
			continue
		}

		lastErr = err
		if ctx.Err() != nil {
			return e.fallback(in, attempts, "request cancelled: "+ctx.Err().Error())
		}
		if llm.IsPermanent(err) {
			return e.stable(e.fallback(in, attempts, "generative backend unavailable: "+err.Error()))
		}
		e.logger.Warn("generative call failed",
			zap.Int("attempt", attempts), zap.Int("max_attempts", maxAttempts), zap.Error(err))
	}

	return e.fallback(in, attempts, fmt.Sprintf("generative backend failed after %d attempts: %v", attempts, lastErr))
}

type callResult struct {
	text string
	err  error
}

// call runs one backend request under the per-call timeout. A backend that
// ignores its context is abandoned once the timeout passes.
func (e *Engine) call(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		text, err := e.backend.Generate(callCtx, prompt)
		done <- callResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s: %w", ErrCallTimeout, e.cfg.CallTimeout, res.err)
		}
		return res.text, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w after %s", ErrCallTimeout, e.cfg.CallTimeout)
	}
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBackoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (e *Engine) fallback(in Input, attempts int, reason string) Outcome {
	e.logger.Info("using rule-based synthesis",
		zap.Int("attempts", attempts), zap.String("reason", reason))
	return Outcome{
		Sections:       Synthesize(in),
		Mode:           models.EngineRuleBased,
		Attempts:       attempts,
		FallbackReason: reason,
	}
}

func (e *Engine) stable(o Outcome) Outcome {
	o.Stable = true
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
