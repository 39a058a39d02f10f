package cache

import (
	"sync"
	"time"
)

// allFactsKey is the reserved sentinel meaning "every fact for this host
// has been gathered". A host whose covered set contains it
// satisfies any subsequent subset request without re-gathering.
const allFactsKey = "all"

type factEntry struct {
	facts     map[string]any
	covered   map[string]struct{}
	expiresAt time.Time
}

// FactCache holds gathered facts per host along with which subset of keys
// is known-covered, so a task that only needs a few facts doesn't force a
// full re-gather, and a full gather satisfies every narrower request after
// it.
type FactCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]factEntry
}

// NewFactCache returns a FactCache whose entries expire after ttl (0
// disables expiry).
func NewFactCache(ttl time.Duration) *FactCache {
	return &FactCache{ttl: ttl, m: map[string]factEntry{}}
}

func (c *FactCache) get(host string) (factEntry, bool) {
	e, ok := c.m[host]
	if !ok {
		return factEntry{}, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		delete(c.m, host)
		return factEntry{}, false
	}
	return e, true
}

// Covers reports whether every key in keys is already cached for host. An
// empty keys slice means "all facts" and is covered only by a prior full
// gather.
func (c *FactCache) Covers(host string, keys []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.get(host)
	if !ok {
		return false
	}
	if _, all := e.covered[allFactsKey]; all {
		return true
	}
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if _, ok := e.covered[k]; !ok {
			return false
		}
	}
	return true
}

// Get returns the subset of cached facts for host restricted to keys; an
// empty keys slice returns everything cached.
func (c *FactCache) Get(host string, keys []string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.get(host)
	if !ok {
		return nil
	}
	if len(keys) == 0 {
		out := make(map[string]any, len(e.facts))
		for k, v := range e.facts {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := e.facts[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Put merges facts into host's cache. full marks the whole host as
// covered by the reserved "all" sentinel, regardless of which keys
// facts happens to contain.
func (c *FactCache) Put(host string, facts map[string]any, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[host]
	if !ok {
		e = factEntry{facts: map[string]any{}, covered: map[string]struct{}{}}
	}
	for k, v := range facts {
		e.facts[k] = v
		e.covered[k] = struct{}{}
	}
	if full {
		e.covered[allFactsKey] = struct{}{}
	}
	e.expiresAt = time.Now().Add(c.ttl)
	c.m[host] = e
}

// Invalidate drops every cached fact for host, forcing a full re-gather.
func (c *FactCache) Invalidate(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, host)
}
