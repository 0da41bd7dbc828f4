package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrag/internal/adapter/analyzer"
	"campusrag/internal/adapter/memstore"
	"campusrag/internal/domain"
	"campusrag/internal/index"
	"campusrag/internal/port"
)

func pageStore(t *testing.T, d domain.Domain, url string, chunks int) *memstore.MemoryStore {
	t.Helper()
	st := memstore.NewMemoryStore(d, 2, index.Options{})
	for i := 0; i < chunks; i++ {
		_, err := st.Upsert(context.Background(), domain.Chunk{
			URL:         url,
			ChunkNumber: i,
			Content:     fmt.Sprintf("part %d", i),
			Embedding:   []float32{1, float32(i)},
		})
		require.NoError(t, err)
	}
	return st
}

func TestContextExpanderAddsNeighbours(t *testing.T) {
	const url = "https://www.ovgu.de/studium"
	st := pageStore(t, domain.University, url, 5)
	hit, err := st.Get(context.Background(), domain.ChunkKey{URL: url, ChunkNumber: 2})
	require.NoError(t, err)

	ret := &domain.Retrieval{
		State:   domain.StateDone,
		Results: []domain.SearchResult{{Domain: domain.University, Chunk: hit, Similarity: 0.8}},
	}

	exp := NewContextExpander(map[domain.Domain]port.ChunkStore{domain.University: st}, 1)
	got, err := exp.Expand(context.Background(), ret)
	require.NoError(t, err)

	require.Len(t, got.Results, 3)
	assert.Len(t, ret.Results, 1, "input must not be modified")
	assert.Equal(t, 1, got.Results[1].Chunk.ChunkNumber)
	assert.Equal(t, 3, got.Results[2].Chunk.ChunkNumber)
	assert.InDelta(t, 0.4, got.Results[1].Similarity, 1e-9)
	assert.Nil(t, got.Results[1].Chunk.Embedding)

	packed := NewPackUseCase(analyzer.NewTokenizer(true)).Pack(got, 0)
	require.Len(t, packed.Snippets, 1)
	assert.Equal(t, "part 1\npart 2\npart 3", packed.Snippets[0].Text)
}

func TestContextExpanderSkipsMissingAndIncluded(t *testing.T) {
	const url = "https://www.magdeburg.de/dom"
	st := pageStore(t, domain.City, url, 2)
	first, err := st.Get(context.Background(), domain.ChunkKey{URL: url, ChunkNumber: 0})
	require.NoError(t, err)
	second, err := st.Get(context.Background(), domain.ChunkKey{URL: url, ChunkNumber: 1})
	require.NoError(t, err)

	ret := &domain.Retrieval{Results: []domain.SearchResult{
		{Domain: domain.City, Chunk: first, Similarity: 0.9},
		{Domain: domain.City, Chunk: second, Similarity: 0.7},
	}}

	exp := NewContextExpander(map[domain.Domain]port.ChunkStore{domain.City: st}, 2)
	got, err := exp.Expand(context.Background(), ret)
	require.NoError(t, err)
	assert.Len(t, got.Results, 2)
}

func TestContextExpanderStoreError(t *testing.T) {
	st := &failingStore{
		ChunkStore: memstore.NewMemoryStore(domain.Faculty, 2, index.Options{}),
		err:        domain.ErrStoreUnavailable,
	}
	ret := &domain.Retrieval{Results: []domain.SearchResult{
		{Domain: domain.Faculty, Chunk: domain.Chunk{URL: "u", ChunkNumber: 0}, Similarity: 1},
	}}

	exp := NewContextExpander(map[domain.Domain]port.ChunkStore{domain.Faculty: st}, 1)
	_, err := exp.Expand(context.Background(), ret)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
