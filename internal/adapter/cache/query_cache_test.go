package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrag/internal/adapter/memstore"
	"campusrag/internal/domain"
	"campusrag/internal/index"
)

func TestQueryCacheTTLAndGeneration(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := cacheKey(domain.City, []float32{1, 0}, 3, nil)
	results := []domain.SearchResult{{Domain: domain.City, Similarity: 0.9}}
	c.Put(key, 1, results)

	got, ok := c.Get(key, 1)
	require.True(t, ok)
	assert.Equal(t, results, got)

	_, ok = c.Get(key, 2)
	assert.False(t, ok, "stale generation")

	c.Put(key, 2, results)
	now = now.Add(2 * time.Minute)
	_, ok = c.Get(key, 2)
	assert.False(t, ok, "expired")
	assert.Zero(t, c.Size())
}

func TestQueryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	c.Put("a", 0, nil)
	c.Put("b", 0, nil)
	_, ok := c.Get("a", 0)
	require.True(t, ok)

	c.Put("c", 0, nil)

	_, ok = c.Get("b", 0)
	assert.False(t, ok)
	_, ok = c.Get("a", 0)
	assert.True(t, ok)
	_, ok = c.Get("c", 0)
	assert.True(t, ok)
}

func TestCacheKeyDistinguishesInputs(t *testing.T) {
	base := cacheKey(domain.City, []float32{1, 0}, 3, nil)
	assert.Equal(t, base, cacheKey(domain.City, []float32{1, 0}, 3, nil))
	assert.NotEqual(t, base, cacheKey(domain.Faculty, []float32{1, 0}, 3, nil))
	assert.NotEqual(t, base, cacheKey(domain.City, []float32{0, 1}, 3, nil))
	assert.NotEqual(t, base, cacheKey(domain.City, []float32{1, 0}, 4, nil))
	assert.NotEqual(t, base, cacheKey(domain.City, []float32{1, 0}, 3, domain.PageRange(1, 2)))
}

func TestCachedStoreInvalidatesOnUpsert(t *testing.T) {
	ctx := context.Background()
	mem := memstore.NewMemoryStore(domain.Faculty, 2, index.Options{})
	store := NewCachedStore(mem, NewQueryCache(10, time.Minute))

	_, err := store.Upsert(ctx, domain.Chunk{URL: "https://fin.ovgu.de/a", Content: "a", Embedding: []float32{0, 1}})
	require.NoError(t, err)

	first, err := store.QueryNearest(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = mem.Upsert(ctx, domain.Chunk{URL: "https://fin.ovgu.de/b", Content: "b", Embedding: []float32{1, 0}})
	require.NoError(t, err)

	second, err := store.QueryNearest(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "https://fin.ovgu.de/b", second[0].Chunk.URL)
}
