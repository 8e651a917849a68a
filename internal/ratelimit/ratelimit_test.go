package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockedLimiter(limits map[string]Limit, concurrency map[string]int) (*Limiter, *time.Time) {
	l := New(limits, concurrency)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestSlidingWindowExactBudget(t *testing.T) {
	l, now := newClockedLimiter(map[string]Limit{
		"execute_code": {MaxRequests: 5, Window: time.Minute, Burst: 2},
	}, nil)

	// Exactly MaxRequests+Burst calls succeed within one window.
	for i := 0; i < 7; i++ {
		v := l.Allow("execute_code", "dev")
		require.True(t, v.Allowed, "call %d", i)
		*now = now.Add(time.Second)
	}

	v := l.Allow("execute_code", "dev")
	require.False(t, v.Allowed)
	assert.Equal(t, "rate limit exceeded", v.Reason)
	assert.Greater(t, v.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, v.RetryAfter, time.Minute)
}

func TestWindowSlidesForward(t *testing.T) {
	l, now := newClockedLimiter(map[string]Limit{
		"read_file": {MaxRequests: 2, Window: 10 * time.Second},
	}, nil)

	require.True(t, l.Allow("read_file", "u").Allowed)
	require.True(t, l.Allow("read_file", "u").Allowed)
	require.False(t, l.Allow("read_file", "u").Allowed)

	// Once the oldest call ages out, capacity returns.
	*now = now.Add(11 * time.Second)
	assert.True(t, l.Allow("read_file", "u").Allowed)
}

func TestRetryAfterDerivedFromOldestRetained(t *testing.T) {
	l, now := newClockedLimiter(map[string]Limit{
		"call_api": {MaxRequests: 1, Window: time.Minute},
	}, nil)

	require.True(t, l.Allow("call_api", "u").Allowed)
	*now = now.Add(20 * time.Second)
	v := l.Allow("call_api", "u")
	require.False(t, v.Allowed)
	assert.Equal(t, 40*time.Second, v.RetryAfter)
}

func TestUsersAreIsolated(t *testing.T) {
	l, _ := newClockedLimiter(map[string]Limit{
		"run_shell": {MaxRequests: 1, Window: time.Minute},
	}, nil)

	require.True(t, l.Allow("run_shell", "alice").Allowed)
	require.False(t, l.Allow("run_shell", "alice").Allowed)
	assert.True(t, l.Allow("run_shell", "bob").Allowed)
}

func TestUnknownToolAllowedUnconditionally(t *testing.T) {
	l, _ := newClockedLimiter(nil, nil)
	for i := 0; i < 1000; i++ {
		require.True(t, l.Allow("unlisted_tool", "u").Allowed)
	}
}

func TestConcurrencyCap(t *testing.T) {
	l := New(nil, map[string]int{"execute_code": 3})

	for i := 0; i < 3; i++ {
		require.True(t, l.StartExecution("execute_code", "dev").Allowed, "slot %d", i)
	}
	v := l.StartExecution("execute_code", "dev")
	require.False(t, v.Allowed)
	assert.Equal(t, "concurrency limit reached", v.Reason)

	l.EndExecution("execute_code", "dev")
	assert.True(t, l.StartExecution("execute_code", "dev").Allowed)
}

func TestEndExecutionClampsAtZero(t *testing.T) {
	l := New(nil, map[string]int{"t": 1})
	l.EndExecution("t", "u")
	l.EndExecution("t", "u")
	assert.Equal(t, 0, l.Running("t", "u"))
	assert.True(t, l.StartExecution("t", "u").Allowed)
}

func TestConcurrentAccessIsSafe(t *testing.T) {
	l := New(map[string]Limit{
		"t": {MaxRequests: 100, Window: time.Minute},
	}, map[string]int{"t": 10})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Allow("t", "u")
				if l.StartExecution("t", "u").Allowed {
					l.EndExecution("t", "u")
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, l.Running("t", "u"))
}
