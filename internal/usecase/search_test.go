package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrag/internal/adapter/memstore"
	"campusrag/internal/domain"
	"campusrag/internal/index"
)

func TestSearchReturnsClosestCluster(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewMemoryStore(domain.University, 4, index.Options{Lists: 2, Probes: 1})

	for i := 0; i < 5; i++ {
		_, err := store.Upsert(ctx, domain.Chunk{
			URL:         "https://www.ovgu.de/admission",
			ChunkNumber: i,
			Title:       "Admission deadlines",
			Content:     fmt.Sprintf("admission deadline part %d", i),
			Embedding:   []float32{1, 0.1 * float32(i), 0, 0},
		})
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := store.Upsert(ctx, domain.Chunk{
			URL:         "https://www.ovgu.de/campus-map",
			ChunkNumber: i,
			Title:       "Campus maps",
			Content:     fmt.Sprintf("campus map part %d", i),
			Embedding:   []float32{0, 0, 1, 0.1 * float32(i)},
		})
		require.NoError(t, err)
	}

	results, err := Search(ctx, store, []float32{1, 0, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, "Admission deadlines", r.Chunk.Title)
		assert.Equal(t, i, r.Chunk.ChunkNumber)
		assert.Equal(t, domain.University, r.Domain)
		assert.Nil(t, r.Chunk.Embedding)
	}
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
	assert.Greater(t, results[1].Similarity, results[2].Similarity)
}

func TestSearchMatchCount(t *testing.T) {
	store := seedStore(t, domain.City, []float32{1, 0, 0, 0}, []float32{0, 1, 0, 0})

	results, err := Search(context.Background(), store, []float32{1, 0, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2, "default match count larger than the store returns everything")

	results, err = Search(context.Background(), store, []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = Search(context.Background(), store, []float32{1, 0, 0, 0}, -2, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidMatchCount)
}

func TestSearchDimensionError(t *testing.T) {
	store := seedStore(t, domain.Faculty, []float32{1, 0, 0, 0})

	for _, q := range [][]float32{{1, 0, 0}, {1, 0, 0, 0, 0}, nil} {
		_, err := Search(context.Background(), store, q, 3, nil)
		require.ErrorIs(t, err, domain.ErrDimensionMismatch)
		var de *domain.DimensionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 4, de.Expected)
		assert.Equal(t, len(q), de.Got)
		assert.Equal(t, domain.Faculty, de.Domain)
	}
}

func TestSearchNegativeSimilarity(t *testing.T) {
	store := seedStore(t, domain.City, []float32{-1, 0, 0, 0}, []float32{1, 0, 0, 0})

	results, err := Search(context.Background(), store, []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.InDelta(t, -1.0, results[1].Similarity, 1e-6)
}

func TestSearchStableOrder(t *testing.T) {
	v := []float32{0, 1, 0, 0}
	store := seedStore(t, domain.Faculty, v, v, v, v)

	first, err := Search(context.Background(), store, v, 4, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Search(context.Background(), store, v, 4, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].Chunk.ID, first[i].Chunk.ID)
	}
}

func TestResolveMatchCount(t *testing.T) {
	n, err := ResolveMatchCount(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMatchCount, n)

	n, err = ResolveMatchCount(7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = ResolveMatchCount(-1)
	assert.ErrorIs(t, err, domain.ErrInvalidMatchCount)
}
