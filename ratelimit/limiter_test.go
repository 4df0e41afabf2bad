package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestConcurrentRequestsNeverOvershoot(t *testing.T) {
	const limit = 25
	l, err := New(Config{Requests: limit, Window: time.Minute})
	require.NoError(t, err)

	var allowed, denied atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < limit+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := l.Allow("caller-1"); err != nil {
				assert.ErrorIs(t, err, ErrLimitExceeded)
				denied.Add(1)
				return
			}
			allowed.Add(1)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(limit), allowed.Load())
	assert.Equal(t, int32(1), denied.Load())
}

func TestWindowResets(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	l, err := New(Config{Requests: 2, Window: time.Minute}, WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, l.Allow("a"))
	require.NoError(t, l.Allow("a"))

	clock.Advance(20 * time.Second)
	err = l.Allow("a")
	require.Error(t, err)

	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, "a", limitErr.Key)
	assert.Equal(t, 2, limitErr.Limit)
	assert.Equal(t, 40*time.Second, limitErr.RetryAfter)
	assert.Contains(t, limitErr.Error(), "retry after 40s")

	clock.Advance(40 * time.Second)
	assert.NoError(t, l.Allow("a"))
	assert.Equal(t, 1, l.Remaining("a"))
}

func TestCallersAreIndependent(t *testing.T) {
	l, err := New(Config{Requests: 1, Window: time.Hour})
	require.NoError(t, err)

	require.NoError(t, l.Allow("a"))
	assert.ErrorIs(t, l.Allow("a"), ErrLimitExceeded)
	assert.NoError(t, l.Allow("b"))
}

func TestEmptyKeyUsesDefaultBucket(t *testing.T) {
	l, err := New(Config{Requests: 1, Window: time.Hour})
	require.NoError(t, err)

	require.NoError(t, l.Allow(""))
	err = l.Allow(DefaultKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultKey)
}

func TestReset(t *testing.T) {
	l, err := New(Config{Requests: 1, Window: time.Hour})
	require.NoError(t, err)

	require.NoError(t, l.Allow("a"))
	require.NoError(t, l.Allow("b"))

	l.Reset("a")
	assert.NoError(t, l.Allow("a"))
	assert.Error(t, l.Allow("b"))

	l.Reset("")
	assert.NoError(t, l.Allow("b"))
}

func TestDefaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultRequests, l.Config().Requests)
	assert.Equal(t, DefaultWindow, l.Config().Window)
}
