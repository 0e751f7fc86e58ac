package embedding

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/iammorganparry/clive/apps/ltm/internal/vector"
)

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 30 * time.Minute
)

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

type cacheEntry struct {
	key       string
	vector    []float32
	createdAt time.Time
}

// Cache maps (text, input type) to vectors. It holds at most maxSize entries,
// evicting in insertion order, and treats entries older than ttl as absent.
// A maxSize of zero disables caching.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List
	items   map[string]*list.Element
	hits    int64
	misses  int64
	now     func() time.Time
}

func NewCache(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get returns a copy of the cached vector.
func (c *Cache) Get(text string, input InputType) ([]float32, bool) {
	if c.maxSize <= 0 {
		return nil, false
	}
	key := cacheKey(text, input)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return vector.Clone(e.vector), true
}

// Set stores a copy of v. Re-setting an existing key refreshes its value and
// age but keeps its insertion position.
func (c *Cache) Set(text string, input InputType, v []float32) {
	if c.maxSize <= 0 {
		return
	}
	key := cacheKey(text, input)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*cacheEntry)
		e.vector = vector.Clone(v)
		e.createdAt = c.now()
		return
	}
	for c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	c.items[key] = c.order.PushBack(&cacheEntry{key: key, vector: vector.Clone(v), createdAt: c.now()})
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CacheStats{Size: c.order.Len(), Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}

func cacheKey(text string, input InputType) string {
	return ContentHash(string(input) + ":" + text)
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
