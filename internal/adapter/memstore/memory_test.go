package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrag/internal/domain"
	"campusrag/internal/index"
)

func chunk(url string, n int, emb ...float32) domain.Chunk {
	return domain.Chunk{
		URL:         url,
		ChunkNumber: n,
		Title:       fmt.Sprintf("%s %d", url, n),
		Content:     "content of " + url,
		Metadata:    domain.Metadata{"source": "web"},
		Embedding:   emb,
	}
}

func TestUpsertTwiceKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(domain.Faculty, 2, index.Options{})

	first, err := s.Upsert(ctx, chunk("https://fin.ovgu.de/a", 0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	time.Sleep(time.Millisecond)
	updated := chunk("https://fin.ovgu.de/a", 0, 0, 1)
	updated.Content = "new content"
	second, err := s.Upsert(ctx, updated)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, domain.ChunkKey{URL: "https://fin.ovgu.de/a", ChunkNumber: 0})
	require.NoError(t, err)
	assert.Equal(t, "new content", got.Content)
	assert.Equal(t, []float32{0, 1}, got.Embedding)
}

func TestUpsertConstraintViolation(t *testing.T) {
	s := NewMemoryStore(domain.City, 2, index.Options{})
	_, err := s.Upsert(context.Background(), chunk("", 0, 1, 0))
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)

	_, err = s.Upsert(context.Background(), chunk("https://magdeburg.de", 0, 1, 0, 0))
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestSelfSimilarity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(domain.University, 3, index.Options{})
	_, err := s.Upsert(ctx, chunk("https://ovgu.de/x", 0, 0.2, 0.5, 0.1))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, chunk("https://ovgu.de/y", 0, -1, 0, 0.3))
	require.NoError(t, err)

	results, err := s.QueryNearest(ctx, []float32{0.2, 0.5, 0.1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://ovgu.de/x", results[0].Chunk.URL)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, domain.University, results[0].Domain)
	assert.Nil(t, results[0].Chunk.Embedding)
}

func TestQueryNearestOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(domain.Faculty, 2, index.Options{})
	for i := 0; i < 5; i++ {
		_, err := s.Upsert(ctx, chunk("https://fin.ovgu.de/p", i, 1, float32(i)))
		require.NoError(t, err)
	}

	results, err := s.QueryNearest(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
	assert.Equal(t, 0, results[0].Chunk.ChunkNumber)

	results, err = s.QueryNearest(ctx, []float32{1, 0}, 50, nil)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestQueryNearestErrors(t *testing.T) {
	s := NewMemoryStore(domain.City, 2, index.Options{})

	_, err := s.QueryNearest(context.Background(), []float32{1, 0, 0}, 3, nil)
	var de *domain.DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 2, de.Expected)
	assert.Equal(t, 3, de.Got)

	_, err = s.QueryNearest(context.Background(), []float32{1, 0}, 0, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidMatchCount)

	results, err := s.QueryNearest(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryNearestMetadataFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(domain.University, 2, index.Options{Lists: 2, Probes: 1})
	for i := 0; i < 20; i++ {
		c := chunk("https://ovgu.de/doc.pdf", i, 1, float32(i)/10)
		c.Metadata = domain.Metadata{"source": "pdf", "page": i}
		_, err := s.Upsert(ctx, c)
		require.NoError(t, err)
	}

	results, err := s.QueryNearest(ctx, []float32{0, 1}, 10, domain.PageRange(3, 5))
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		page, ok := r.Chunk.Metadata.Page()
		require.True(t, ok)
		assert.GreaterOrEqual(t, page, 3)
		assert.LessOrEqual(t, page, 5)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(domain.City, 2, index.Options{})
	meta := domain.Metadata{"source": "web", "page": 4, "tags": []any{"a", "b"}}
	c := chunk("https://magdeburg.de/zoo", 0, 1, 1)
	c.Metadata = meta
	_, err := s.Upsert(ctx, c)
	require.NoError(t, err)

	meta["source"] = "mutated"

	got, err := s.Get(ctx, c.Key())
	require.NoError(t, err)
	assert.Equal(t, "web", got.Metadata["source"])
	assert.Equal(t, 4, got.Metadata["page"])
	assert.Equal(t, []any{"a", "b"}, got.Metadata["tags"])
}

func TestGetNotFound(t *testing.T) {
	s := NewMemoryStore(domain.City, 2, index.Options{})
	_, err := s.Get(context.Background(), domain.ChunkKey{URL: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGenerationAdvances(t *testing.T) {
	s := NewMemoryStore(domain.City, 2, index.Options{})
	g0 := s.Generation()
	_, err := s.Upsert(context.Background(), chunk("https://magdeburg.de", 0, 1, 0))
	require.NoError(t, err)
	assert.Greater(t, s.Generation(), g0)
}
