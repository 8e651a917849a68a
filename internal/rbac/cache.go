package rbac

import (
	"strings"
	"sync"
	"time"
)

type cacheKey struct {
	user string
	tool string
}

type cacheEntry struct {
	decision Decision
	cachedAt time.Time
}

// decisionCache is a TTL cache for permission verdicts. Permission checks
// sit on every tool call's latency path; the short TTL bounds staleness
// while keeping the store off the hot path.
type decisionCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *decisionCache) get(user, tool string) (Decision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey{user: user, tool: tool}]
	c.mu.RUnlock()
	if !ok {
		return Decision{}, false
	}
	if c.now().Sub(entry.cachedAt) > c.ttl {
		return Decision{}, false
	}
	return entry.decision, true
}

func (c *decisionCache) put(user, tool string, d Decision) {
	c.mu.Lock()
	c.entries[cacheKey{user: user, tool: tool}] = cacheEntry{decision: d, cachedAt: c.now()}
	c.mu.Unlock()
}

func (c *decisionCache) invalidateUser(user string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.user == user {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *decisionCache) invalidateTool(tool string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.tool == tool {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *decisionCache) invalidateAll() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

func (c *decisionCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func normalizeTool(tool string) string {
	return strings.ToLower(strings.TrimSpace(tool))
}
