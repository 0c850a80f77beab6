package rescache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Config holds in-process cache limits.
type Config struct {
	MaxSize    int
	DefaultTTL time.Duration
}

// DefaultConfig returns the standard cache limits.
func DefaultConfig() Config {
	return Config{MaxSize: 1000, DefaultTTL: 5 * time.Minute}
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
}

type entry[V any] struct {
	value     V
	label     string
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry[V]) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.createdAt.Add(e.ttl))
}

// Cache is a capacity-bounded TTL cache with LRU eviction. Safe for concurrent use.
type Cache[V any] struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	items     *lru.Cache[string, *entry[V]]
	hits      uint64
	misses    uint64
	evictions uint64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an empty cache.
func New[V any](cfg Config, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	items, err := lru.New[string, *entry[V]](cfg.MaxSize)
	if err != nil {
		// only fails for a non-positive size
		panic(fmt.Sprintf("rescache: create lru: %v", err))
	}
	return &Cache[V]{cfg: cfg, now: o.now, items: items}
}

// SetOption configures a single Set.
type SetOption func(*setOptions)

type setOptions struct {
	ttl   time.Duration
	label string
}

// WithTTL overrides the default TTL for one entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = ttl }
}

// WithLabel attaches a human-readable label matched by Clear.
func WithLabel(label string) SetOption {
	return func(o *setOptions) { o.label = label }
}

// Get returns a live entry and marks it most recently used.
// An expired entry is evicted and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Get(key)
	if !ok {
		c.misses++
		return zero, false
	}
	if e.expired(c.now()) {
		c.items.Remove(key)
		c.evictions++
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry at capacity.
func (c *Cache[V]) Set(key string, value V, opts ...SetOption) {
	o := setOptions{ttl: c.cfg.DefaultTTL}
	for _, fn := range opts {
		fn(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[V]{value: value, label: o.label, createdAt: c.now(), ttl: o.ttl}
	if c.items.Add(key, e) {
		c.evictions++
	}
}

// Delete removes key. Reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Remove(key)
}

// Clear removes entries whose key or label contains pattern (case-insensitive).
// An empty pattern clears everything. Returns the number of removed entries.
func (c *Cache[V]) Clear(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		n := c.items.Len()
		c.items.Purge()
		return n
	}
	p := strings.ToLower(pattern)
	n := 0
	for _, k := range c.items.Keys() {
		e, ok := c.items.Peek(k)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(k), p) || strings.Contains(strings.ToLower(e.label), p) {
			c.items.Remove(k)
			n++
		}
	}
	return n
}

// Sweep removes every expired entry. Returns the number removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for _, k := range c.items.Keys() {
		if e, ok := c.items.Peek(k); ok && e.expired(now) {
			c.items.Remove(k)
			n++
		}
	}
	c.evictions += uint64(n)
	return n
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *Cache[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Sweep()
			}
		}
	}()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	return c.items.Len()
}

// Stats returns a snapshot of cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.items.Len(),
		MaxSize:   c.cfg.MaxSize,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
