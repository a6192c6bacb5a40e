package classify

import (
	"container/list"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

const (
	DefaultCacheTTL  = 12 * time.Hour
	DefaultCacheSize = 5000
)

// CacheKey identifies a model reply by everything the prompt is built from:
// the compacted text, the category set and the candidate regions.
func CacheKey(text string, categories, regions []string) string {
	th := sha1.Sum([]byte(text))
	ch := sha1.Sum([]byte(strings.Join(uniqueSorted(categories), ",") + "|" + strings.Join(uniqueSorted(regions), ",")))
	return hex.EncodeToString(th[:]) + "_" + hex.EncodeToString(ch[:])
}

type cacheEntry struct {
	key    string
	result Result
	stored time.Time
}

// Cache holds recent decoded model replies for a bounded time. Overrides
// depend on the full text and hint, so they run after a lookup, not before
// a store. Insertion order decides
// eviction when the cache is full.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	order   *list.List
	entries map[string]*list.Element
}

// NewCache returns a cache with the given TTL and capacity. A nil now uses
// the wall clock.
func NewCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns a live entry. Expired entries are removed and reported as a miss.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	e := el.Value.(*cacheEntry)
	if c.now().Sub(e.stored) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return Result{}, false
	}
	return e.result, true
}

func (c *Cache) Put(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	for c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushBack(&cacheEntry{key: key, result: r, stored: c.now()})
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
