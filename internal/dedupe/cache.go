// ABOUTME: Thread-safe TTL key cache used to debounce repeated work per key
// ABOUTME: Bounded in size; the oldest key is evicted first when full

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	markedAt time.Time
	elem     *list.Element
}

// Cache remembers keys for a TTL. Keys are held in mark order so the oldest
// can be evicted in O(1) when the cache is full.
type Cache struct {
	mu      sync.Mutex
	keys    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache and starts its background sweeper. Call Close when done.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		keys:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.now())
}

// CheckAndMark marks key and reports whether it was already live. The check
// and the mark happen under one lock, so concurrent callers see exactly one
// false per window.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.liveLocked(key, now) {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Forget removes key so the next CheckAndMark for it returns false.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.keys[key]; ok {
		c.order.Remove(e.elem)
		delete(c.keys, key)
	}
}

// Len returns the number of keys held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func (c *Cache) liveLocked(key string, now time.Time) bool {
	e, ok := c.keys[key]
	return ok && now.Sub(e.markedAt) < c.ttl
}

func (c *Cache) markLocked(key string, now time.Time) {
	if e, ok := c.keys[key]; ok {
		e.markedAt = now
		c.order.MoveToBack(e.elem)
		return
	}
	if len(c.keys) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			delete(c.keys, front.Value.(string))
			c.order.Remove(front)
		}
	}
	c.keys[key] = &entry{markedAt: now, elem: c.order.PushBack(key)}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys. Marks are in time order, so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.keys[key].markedAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.keys, key)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
