package fragment

import (
	"container/list"
	"sync"
	"time"
)

// DefaultConfirmedCapacity bounds the confirmed cache.
const DefaultConfirmedCapacity = 50

// Entry is a speculative cache entry with its preload metadata.
type Entry struct {
	Fragment *Fragment
	StoredAt time.Time
	Priority int
	Source   string
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Promotions  uint64 `json:"promotions"`
	Evictions   uint64 `json:"evictions"`
	Confirmed   int    `json:"confirmed"`
	Speculative int    `json:"speculative"`
}

type confirmedEntry struct {
	path string
	frag *Fragment
}

// Cache holds two named caches keyed by route path: confirmed entries,
// written by completed navigations and bounded LRU, and speculative entries,
// written by the preloader and bounded by its periodic eviction.
//
// A path is never held in both: storing a confirmed entry drops the
// speculative one, and speculative writes for confirmed paths are ignored.
type Cache struct {
	mu          sync.Mutex
	capacity    int
	lru         *list.List
	confirmed   map[string]*list.Element
	speculative map[string]Entry
	stats       Stats
}

// NewCache creates a Cache holding at most capacity confirmed entries.
// A non-positive capacity selects DefaultConfirmedCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultConfirmedCapacity
	}
	return &Cache{
		capacity:    capacity,
		lru:         list.New(),
		confirmed:   make(map[string]*list.Element),
		speculative: make(map[string]Entry),
	}
}

// Get returns a confirmed fragment.
func (c *Cache) Get(path string) (*Fragment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.confirmed[path]; ok {
		c.lru.MoveToFront(el)
		c.stats.Hits++
		return el.Value.(*confirmedEntry).frag, true
	}
	c.stats.Misses++
	return nil, false
}

// Put stores a confirmed fragment.
func (c *Cache) Put(path string, f *Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(path, f)
}

func (c *Cache) putLocked(path string, f *Fragment) {
	delete(c.speculative, path)
	if el, ok := c.confirmed[path]; ok {
		el.Value.(*confirmedEntry).frag = f
		c.lru.MoveToFront(el)
		return
	}
	c.confirmed[path] = c.lru.PushFront(&confirmedEntry{path: path, frag: f})
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.confirmed, oldest.Value.(*confirmedEntry).path)
		c.stats.Evictions++
	}
}

// GetSpeculative returns a speculative entry without promoting it.
func (c *Cache) GetSpeculative(path string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.speculative[path]
	return e, ok
}

// PutSpeculative stores a preloaded fragment. It reports false, and stores
// nothing, when the path is already confirmed.
func (c *Cache) PutSpeculative(path string, e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.confirmed[path]; ok {
		return false
	}
	c.speculative[path] = e
	return true
}

// Promote moves a speculative entry into the confirmed cache.
func (c *Cache) Promote(path string) (*Fragment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.speculative[path]
	if !ok {
		return nil, false
	}
	c.putLocked(path, e.Fragment)
	c.stats.Promotions++
	return e.Fragment, true
}

// DeleteSpeculative removes speculative entries and returns how many existed.
func (c *Cache) DeleteSpeculative(paths ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range paths {
		if _, ok := c.speculative[p]; ok {
			delete(c.speculative, p)
			n++
		}
	}
	c.stats.Evictions += uint64(n)
	return n
}

// Resolved reports whether either cache holds path.
func (c *Cache) Resolved(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.confirmed[path]; ok {
		return true
	}
	_, ok := c.speculative[path]
	return ok
}

// Invalidate drops path from both caches.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.confirmed[path]; ok {
		c.lru.Remove(el)
		delete(c.confirmed, path)
	}
	delete(c.speculative, path)
}

// Len returns the number of confirmed entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.confirmed)
}

// SpeculativeLen returns the number of speculative entries.
func (c *Cache) SpeculativeLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.speculative)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Confirmed = len(c.confirmed)
	s.Speculative = len(c.speculative)
	return s
}
