package api

import (
	"sync"
	"time"
)

type limiterState struct {
	tokens   float64
	lastAt   time.Time
	lastSeen time.Time
}

// ipRateLimiter is a per-IP token bucket. When full it forgets the least
// recently seen IP.
type ipRateLimiter struct {
	mu sync.Mutex

	refillPerSecond float64
	burst           float64
	maxTrackedIPs   int
	states          map[string]limiterState
}

func newIPRateLimiter(refillPerSecond, burst float64, maxTrackedIPs int) *ipRateLimiter {
	return &ipRateLimiter{
		refillPerSecond: refillPerSecond,
		burst:           burst,
		maxTrackedIPs:   maxTrackedIPs,
		states:          make(map[string]limiterState),
	}
}

func (l *ipRateLimiter) Allow(ip string, now time.Time) bool {
	if l == nil {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[ip]
	if !ok {
		if len(l.states) >= l.maxTrackedIPs {
			l.evictOldest()
		}
		l.states[ip] = limiterState{tokens: l.burst - 1, lastAt: now, lastSeen: now}
		return true
	}

	if elapsed := now.Sub(st.lastAt).Seconds(); elapsed > 0 {
		st.tokens = min(l.burst, st.tokens+elapsed*l.refillPerSecond)
	}
	st.lastAt = now
	st.lastSeen = now

	allowed := st.tokens >= 1
	if allowed {
		st.tokens--
	}
	l.states[ip] = st
	return allowed
}

func (l *ipRateLimiter) evictOldest() {
	var (
		oldestIP string
		oldestAt time.Time
	)
	for ip, st := range l.states {
		if oldestIP == "" || st.lastSeen.Before(oldestAt) {
			oldestIP = ip
			oldestAt = st.lastSeen
		}
	}
	delete(l.states, oldestIP)
}

type cacheEntry struct {
	body      []byte
	expiresAt time.Time
	lastSeen  time.Time
}

// responseCache holds encoded response bodies with a per-entry TTL.
type responseCache struct {
	mu sync.Mutex

	maxEntries int
	entries    map[string]cacheEntry
}

func newResponseCache(maxEntries int) *responseCache {
	return &responseCache{maxEntries: maxEntries, entries: make(map[string]cacheEntry)}
}

func (c *responseCache) Get(key string, now time.Time) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	e.lastSeen = now
	c.entries[key] = e
	return append([]byte(nil), e.body...), true
}

func (c *responseCache) Set(key string, body []byte, now time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if !now.Before(v.expiresAt) {
			delete(c.entries, k)
		}
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = cacheEntry{
		body:      append([]byte(nil), body...),
		expiresAt: now.Add(ttl),
		lastSeen:  now,
	}
}

func (c *responseCache) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
		first     = true
	)
	for k, v := range c.entries {
		if first || v.lastSeen.Before(oldestAt) {
			first = false
			oldestKey = k
			oldestAt = v.lastSeen
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
