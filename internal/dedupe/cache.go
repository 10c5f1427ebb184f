// ABOUTME: Bounded TTL set of event ids already handed to a client
// ABOUTME: Lets reconnecting watchers drop frames they have already applied

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Cache remembers keys for ttl, holding at most maxSize of them. Entries
// live in a list ordered by last mark, so the front is always the oldest
// and expiry and eviction both pop from the front.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. Non-positive arguments fall back to 10 minutes and
// 1024 entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Check reports whether key was marked within the ttl.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	_, ok := c.index[key]
	return ok
}

// CheckAndMark reports whether key is a duplicate, marking it if not.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	if _, ok := c.index[key]; ok {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key, refreshing it if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	c.markLocked(key)
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	return len(c.index)
}

func (c *Cache) markLocked(key string) {
	now := c.now()
	if elem, ok := c.index[key]; ok {
		elem.Value.(*entry).seen = now
		c.order.MoveToBack(elem)
		return
	}
	for len(c.index) >= c.maxSize {
		c.removeFront()
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seen: now})
}

func (c *Cache) expireLocked() {
	cutoff := c.now().Add(-c.ttl)
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if front.Value.(*entry).seen.After(cutoff) {
			return
		}
		c.removeFront()
	}
}

func (c *Cache) removeFront() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*entry).key)
}
