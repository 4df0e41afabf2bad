package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware decorates a Backend with a cross-cutting concern
type Middleware func(Backend) Backend

// Wrap applies middlewares in left-to-right order:
// Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Backend, mws ...Middleware) Backend {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// Throttle caps outgoing calls at rps with the given burst. Callers block
// until a token is available or their context ends. rps <= 0 disables it.
func Throttle(rps float64, burst int) Middleware {
	return func(next Backend) Backend {
		if rps <= 0 {
			return next
		}
		if burst <= 0 {
			burst = 1
		}
		return &throttled{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
	}
}

type throttled struct {
	next    Backend
	limiter *rate.Limiter
}

func (t *throttled) Name() string { return t.next.Name() }

func (t *throttled) Generate(ctx context.Context, prompt string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.next.Generate(ctx, prompt)
}

// WithLogging logs each call's outcome and latency
func WithLogging(logger *zap.Logger) Middleware {
	return func(next Backend) Backend {
		if logger == nil {
			return next
		}
		return &logged{next: next, logger: logger.Named("llm")}
	}
}

type logged struct {
	next   Backend
	logger *zap.Logger
}

func (l *logged) Name() string { return l.next.Name() }

func (l *logged) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := l.next.Generate(ctx, prompt)
	fields := []zap.Field{
		zap.String("backend", l.next.Name()),
		zap.Int("prompt_chars", len(prompt)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		l.logger.Warn("generation failed", append(fields, zap.Bool("permanent", IsPermanent(err)), zap.Error(err))...)
		return "", err
	}
	l.logger.Debug("generation succeeded", append(fields, zap.Int("response_chars", len(out)))...)
	return out, nil
}
