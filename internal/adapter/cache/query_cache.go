package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"campusrag/internal/domain"
	"campusrag/internal/port"
	"campusrag/internal/vecmath"
)

type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	results    []domain.SearchResult
	timestamp  time.Time
	generation uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(d domain.Domain, query []float32, topK int, filter *domain.Filter) string {
	data := []byte(d)
	data = append(data, 0)
	data = append(data, vecmath.Hash(query)...)
	data = append(data, 0)
	data = strconv.AppendInt(data, int64(topK), 10)
	data = append(data, 0)
	data = append(data, filter.String()...)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// Get returns cached results when present, younger than the ttl and
// computed at the given store generation.
func (c *QueryCache) Get(key string, generation uint64) ([]domain.SearchResult, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.now().Sub(entry.timestamp) > c.ttl || entry.generation != generation {
		c.mu.Lock()
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.moveToEnd(key)
	c.mu.Unlock()

	return copyResults(entry.results), true
}

func (c *QueryCache) Put(key string, generation uint64, results []domain.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{
		results:    copyResults(results),
		timestamp:  c.now(),
		generation: generation,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func copyResults(in []domain.SearchResult) []domain.SearchResult {
	out := make([]domain.SearchResult, len(in))
	copy(out, in)
	return out
}

// CachedStore serves repeated nearest neighbour queries from a QueryCache.
// Stores that report a generation invalidate their entries on change; for
// others, writes through the wrapper bump a local generation.
type CachedStore struct {
	port.ChunkStore
	cache *QueryCache

	mu    sync.Mutex
	local uint64
}

func NewCachedStore(store port.ChunkStore, cache *QueryCache) *CachedStore {
	return &CachedStore{
		ChunkStore: store,
		cache:      cache,
	}
}

func (s *CachedStore) generation() uint64 {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	if g, ok := s.ChunkStore.(port.Generational); ok {
		return g.Generation() + local
	}
	return local
}

// Generation reports the generation the cache validates against.
func (s *CachedStore) Generation() uint64 {
	return s.generation()
}

func (s *CachedStore) Upsert(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	stored, err := s.ChunkStore.Upsert(ctx, chunk)
	if err == nil {
		s.mu.Lock()
		s.local++
		s.mu.Unlock()
	}
	return stored, err
}

func (s *CachedStore) QueryNearest(ctx context.Context, query []float32, k int, filter *domain.Filter) ([]domain.SearchResult, error) {
	key := cacheKey(s.Domain(), query, k, filter)
	gen := s.generation()

	if results, hit := s.cache.Get(key, gen); hit {
		return results, nil
	}

	results, err := s.ChunkStore.QueryNearest(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}

	s.cache.Put(key, gen, results)

	return results, nil
}
