package categorization

import (
	"strings"
	"sync"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// Entry is a cached categorization result.
type Entry struct {
	Categories []string
	Confidence float64
}

func (e Entry) copy() Entry {
	return Entry{Categories: clone(e.Categories), Confidence: e.Confidence}
}

// Cache stores categorization results by CacheKey. Implementations must be
// safe for concurrent use and must not alias the slices they are given or
// hand out.
type Cache interface {
	Get(key string) (Entry, bool)
	Put(key string, e Entry)
	Len() int
}

// NewCache returns an unbounded cache when size <= 0, otherwise an LRU cache
// holding at most size entries.
func NewCache(size int) (Cache, error) {
	if size <= 0 {
		return NewMapCache(), nil
	}
	return NewLRUCache(size)
}

// MapCache is a process-lifetime cache that never evicts. Memory grows with
// the number of distinct descriptions seen.
type MapCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMapCache creates an empty unbounded cache.
func NewMapCache() *MapCache {
	return &MapCache{entries: make(map[string]Entry)}
}

func (c *MapCache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

func (c *MapCache) Put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e.copy()
}

func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LRUCache bounds the number of cached descriptions, evicting the least
// recently used entry when full.
type LRUCache struct {
	inner *lru.Cache[string, Entry]
}

// NewLRUCache creates a bounded cache.
func NewLRUCache(size int) (*LRUCache, error) {
	inner, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{inner: inner}, nil
}

func (c *LRUCache) Get(key string) (Entry, bool) {
	e, ok := c.inner.Get(key)
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

func (c *LRUCache) Put(key string, e Entry) {
	c.inner.Add(key, e.copy())
}

func (c *LRUCache) Len() int { return c.inner.Len() }

// CacheKey groups transactions that differ only by amounts, dates or
// reference numbers: "<type>:<description without digits, punctuation and
// symbols, whitespace collapsed>". Currency signs such as $ and € are
// symbols, not punctuation.
func CacheKey(tx *domain.Transaction) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tx.Description) {
		if unicode.IsDigit(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	normalized := strings.Join(strings.Fields(b.String()), " ")
	return string(tx.Type) + ":" + normalized
}

var (
	_ Cache = (*MapCache)(nil)
	_ Cache = (*LRUCache)(nil)
)
