package reasoning

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"decisiondesk-backend/llm"
	"decisiondesk-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend replays one response per call; the last one repeats
type scriptedBackend struct {
	calls     atomic.Int32
	responses []func(ctx context.Context) (string, error)
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Generate(ctx context.Context, prompt string) (string, error) {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i](ctx)
}

func reply(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fail(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func hang(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func fastConfig() Config {
	return Config{MaxRetries: 2, CallTimeout: 20 * time.Millisecond, RetryBackoff: time.Millisecond}
}

func bobInput() Input {
	return newInput(bobInsight, "Which employees exceeded limits?", literal("Leave Policy: max 10 days/year"))
}

func TestGenerateUsesBackendOutput(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){reply(wellFormed)}}
	in := bobInput()

	out := NewEngine(backend, fastConfig()).Generate(context.Background(), in)

	assert.Equal(t, models.EngineGenerative, out.Mode)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, out.FallbackReason)
	assert.True(t, out.Stable)
	assert.Contains(t, out.Sections.PolicyAlignment, "Policy 1")
	assert.Contains(t, out.Sections.LimitationsConfidence, in.Assessment.String())
}

func TestGenerateTimeoutOnEveryAttemptFallsBack(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){hang}}
	in := bobInput()

	out := NewEngine(backend, fastConfig()).Generate(context.Background(), in)

	assert.Equal(t, models.EngineRuleBased, out.Mode)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), backend.calls.Load())
	assert.Equal(t, Synthesize(in), out.Sections)
	assert.Contains(t, out.FallbackReason, "timed out")
	assert.False(t, out.Stable)
}

func TestGenerateAbandonsBackendIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){
		func(context.Context) (string, error) {
			<-release
			return wellFormed, nil
		},
	}}

	start := time.Now()
	out := NewEngine(backend, Config{MaxRetries: 0, CallTimeout: 10 * time.Millisecond}).Generate(context.Background(), bobInput())

	assert.Equal(t, models.EngineRuleBased, out.Mode)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){
		fail(errors.New("503 unavailable")),
		reply(wellFormed),
	}}

	out := NewEngine(backend, fastConfig()).Generate(context.Background(), bobInput())

	assert.Equal(t, models.EngineGenerative, out.Mode)
	assert.Equal(t, 2, out.Attempts)
}

func TestGeneratePermanentFailureSkipsRetries(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){
		fail(llm.NewPermanentError(errors.New("invalid api key"))),
	}}

	out := NewEngine(backend, fastConfig()).Generate(context.Background(), bobInput())

	assert.Equal(t, models.EngineRuleBased, out.Mode)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.FallbackReason, "invalid api key")
	assert.True(t, out.Stable)
}

func TestGenerateRetriesMalformedOutputOnce(t *testing.T) {
	t.Run("second answer well formed", func(t *testing.T) {
		backend := &scriptedBackend{responses: []func(context.Context) (string, error){
			reply("just some prose"),
			reply(wellFormed),
		}}
		out := NewEngine(backend, fastConfig()).Generate(context.Background(), bobInput())

		assert.Equal(t, models.EngineGenerative, out.Mode)
		assert.Equal(t, 2, out.Attempts)
	})

	t.Run("malformed twice", func(t *testing.T) {
		backend := &scriptedBackend{responses: []func(context.Context) (string, error){
			reply("SUMMARY OF FINDINGS: only this"),
		}}
		in := bobInput()
		out := NewEngine(backend, fastConfig()).Generate(context.Background(), in)

		assert.Equal(t, models.EngineRuleBased, out.Mode)
		assert.Equal(t, 2, out.Attempts)
		assert.Contains(t, out.FallbackReason, "malformed")
		assert.Equal(t, Synthesize(in), out.Sections)
	})
}

func TestGenerateWithoutBackend(t *testing.T) {
	in := bobInput()

	out := NewEngine(nil, DefaultConfig()).Generate(context.Background(), in)

	assert.Equal(t, models.EngineRuleBased, out.Mode)
	assert.Zero(t, out.Attempts)
	assert.Equal(t, Synthesize(in), out.Sections)
}

func TestGenerateCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){
		func(callCtx context.Context) (string, error) {
			cancel()
			<-callCtx.Done()
			return "", callCtx.Err()
		},
	}}

	out := NewEngine(backend, Config{MaxRetries: 2, CallTimeout: time.Second}).Generate(ctx, bobInput())

	require.Equal(t, models.EngineRuleBased, out.Mode)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.FallbackReason, "cancelled")
	assert.True(t, out.Sections.Complete())
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	e := NewEngine(nil, Config{RetryBackoff: 3 * time.Second})

	assert.Equal(t, 3*time.Second, e.backoff(1))
	assert.Equal(t, 6*time.Second, e.backoff(2))
	assert.Equal(t, maxBackoff, e.backoff(5))
}
