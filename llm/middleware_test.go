package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingBackend struct {
	calls int
	out   string
	err   error
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) Generate(ctx context.Context, prompt string) (string, error) {
	r.calls++
	return r.out, r.err
}

func TestWrapOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Backend) Backend {
			order = append(order, name)
			return next
		}
	}

	Wrap(&recordingBackend{}, tag("outer"), tag("inner"))

	assert.Equal(t, []string{"inner", "outer"}, order)
}

func TestThrottleHonoursContext(t *testing.T) {
	inner := &recordingBackend{out: "ok"}
	b := Wrap(inner, Throttle(0.001, 1))

	_, err := b.Generate(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Generate(ctx, "second")

	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestThrottleDisabled(t *testing.T) {
	inner := &recordingBackend{out: "ok"}

	assert.Same(t, Backend(inner), Throttle(0, 0)(inner))
}

func TestWithLoggingRecordsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	inner := &recordingBackend{err: NewPermanentError(errors.New("bad key"))}
	b := Wrap(inner, WithLogging(zap.New(core)))

	_, err := b.Generate(context.Background(), "prompt")

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "generation failed", entry.Message)
	assert.Equal(t, true, entry.ContextMap()["permanent"])
}

func TestDisabledIsPermanent(t *testing.T) {
	_, err := Disabled("GEMINI_API_KEY not set").Generate(context.Background(), "p")

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY not set")
}
