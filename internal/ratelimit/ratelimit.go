// Package ratelimit provides per-tool, per-user sliding-window request
// throttling and live concurrency accounting. State is process-local:
// a throttle, not a security boundary.
package ratelimit

import (
	"sync"
	"time"
)

// Limit configures the sliding window for one tool.
type Limit struct {
	MaxRequests int
	Window      time.Duration
	Burst       int
}

// Verdict is the outcome of a rate check.
type Verdict struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

type key struct {
	tool string
	user string
}

// Limiter tracks sliding windows and live execution counters.
type Limiter struct {
	mu          sync.Mutex
	limits      map[string]Limit
	concurrency map[string]int
	windows     map[key][]time.Time
	running     map[key]int
	now         func() time.Time
}

// New constructs a Limiter. limits maps tool name to its window config;
// concurrency maps tool name to its max concurrent executions. Tools
// absent from a map are unconstrained by that map.
func New(limits map[string]Limit, concurrency map[string]int) *Limiter {
	l := &Limiter{
		limits:      make(map[string]Limit, len(limits)),
		concurrency: make(map[string]int, len(concurrency)),
		windows:     make(map[key][]time.Time),
		running:     make(map[key]int),
		now:         time.Now,
	}
	for tool, lim := range limits {
		l.limits[tool] = lim
	}
	for tool, max := range concurrency {
		l.concurrency[tool] = max
	}
	return l
}

// SetLimit installs or replaces the window config for a tool.
func (l *Limiter) SetLimit(tool string, lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[tool] = lim
}

// SetConcurrency installs or replaces the concurrency cap for a tool.
func (l *Limiter) SetConcurrency(tool string, max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.concurrency[tool] = max
}

// Allow checks and records one request for (tool, user). Tools with no
// configured limit are allowed unconditionally.
func (l *Limiter) Allow(tool, user string) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[tool]
	if !ok || lim.MaxRequests <= 0 || lim.Window <= 0 {
		return Verdict{Allowed: true}
	}

	k := key{tool: tool, user: user}
	now := l.now()
	cutoff := now.Add(-lim.Window)

	window := l.windows[k]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	allowed := lim.MaxRequests + lim.Burst
	if len(kept) >= allowed {
		// The slot frees up when the oldest retained request ages out.
		retry := kept[0].Add(lim.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		l.windows[k] = kept
		return Verdict{
			Allowed:    false,
			Reason:     "rate limit exceeded",
			RetryAfter: retry,
		}
	}

	l.windows[k] = append(kept, now)
	return Verdict{Allowed: true}
}

// StartExecution reserves a concurrency slot for (tool, user). It denies
// once the live counter reaches the tool's cap.
func (l *Limiter) StartExecution(tool, user string) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	max, ok := l.concurrency[tool]
	if !ok || max <= 0 {
		return Verdict{Allowed: true}
	}
	k := key{tool: tool, user: user}
	if l.running[k] >= max {
		return Verdict{Allowed: false, Reason: "concurrency limit reached"}
	}
	l.running[k]++
	return Verdict{Allowed: true}
}

// EndExecution releases a concurrency slot. Releasing below zero is
// clamped so a double release cannot mint extra capacity.
func (l *Limiter) EndExecution(tool, user string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{tool: tool, user: user}
	if l.running[k] > 0 {
		l.running[k]--
	}
	if l.running[k] == 0 {
		delete(l.running, k)
	}
}

// Running reports the live execution count for (tool, user).
func (l *Limiter) Running(tool, user string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running[key{tool: tool, user: user}]
}
