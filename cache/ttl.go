package cache

import (
	"container/list"
	"sync"
	"time"
)

// TTLCache is a capacity and TTL bounded cache. Once capacity is exceeded the
// entry that was set longest ago is evicted. Get does not refresh an entry's
// position, so this is insertion-ordered rather than a strict LRU.
type TTLCache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*entry[V]
	order    *list.List
	now      func() time.Time
}

type entry[V any] struct {
	key     string
	value   V
	expires time.Time
	element *list.Element
}

// Option customizes a TTLCache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewTTL creates a cache with capacity and default TTL.
func NewTTL[V any](capacity int, ttl time.Duration, opts ...Option) *TTLCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TTLCache[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry[V], capacity),
		order:    list.New(),
		now:      o.now,
	}
}

// Get returns the live value stored under key. Expired entries are dropped.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		if c.now().Before(ent.expires) {
			return ent.value, true
		}
		c.removeEntry(ent)
	}
	var zero V
	return zero, false
}

// Contains reports whether key holds a live entry.
func (c *TTLCache[V]) Contains(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value under key. A non-positive ttl uses the cache default.
// Overwriting a key counts as a fresh insertion.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.ttl
	}
	expires := c.now().Add(ttl)

	if ent, ok := c.items[key]; ok {
		ent.value = value
		ent.expires = expires
		c.order.MoveToFront(ent.element)
		return
	}

	elem := c.order.PushFront(key)
	c.items[key] = &entry[V]{
		key:     key,
		value:   value,
		expires: expires,
		element: elem,
	}
	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Delete removes key if present.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.removeEntry(ent)
	}
}

// Len returns the number of stored entries, expired ones included until they
// are touched or evicted.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops every entry.
func (c *TTLCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry[V], c.capacity)
	c.order.Init()
}

func (c *TTLCache[V]) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(string)
	if ent, ok := c.items[key]; ok {
		c.removeEntry(ent)
	}
}

func (c *TTLCache[V]) removeEntry(ent *entry[V]) {
	if ent.element != nil {
		c.order.Remove(ent.element)
	}
	delete(c.items, ent.key)
}
