// ABOUTME: Per-key token bucket counting failed attempts, used to lock wallets out
// ABOUTME: Idle buckets are evicted periodically so the map stays bounded

package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter applies a token bucket per string key and periodically evicts idle
// entries. Each recorded failure takes a token; a key with no token left is
// blocked until the bucket refills.
type Limiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*entry
	hits    uint64
	idleTTL time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// evictEvery is how many Record calls pass between idle sweeps.
const evictEvery = 512

// New creates a key-based limiter refilling perHour tokens an hour.
// Returns nil (which never blocks) if perHour or burst is not positive.
func New(perHour, burst int) *Limiter {
	if perHour <= 0 || burst <= 0 {
		return nil
	}
	every := time.Hour / time.Duration(perHour)
	return &Limiter{
		limit: rate.Every(every),
		burst: burst,
		byKey: make(map[string]*entry),
		// A bucket idle this long has refilled completely.
		idleTTL: every * time.Duration(burst),
	}
}

// Record takes one token for key at now. It reports whether a token was
// available, so the caller sees the attempt that exhausted the bucket.
func (l *Limiter) Record(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%evictEvery == 0 {
		l.evictLocked(now)
	}
	return allowed
}

// Blocked reports whether key has no token left at now. It does not take one.
func (l *Limiter) Blocked(key string, now time.Time) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		return false
	}
	return e.limiter.TokensAt(now) < 1
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

func (l *Limiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for k, v := range l.byKey {
		if v.lastSeen.Before(cutoff) {
			delete(l.byKey, k)
		}
	}
}
