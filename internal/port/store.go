package port

import (
	"context"

	"campusrag/internal/domain"
)

// ChunkStore is one domain-scoped embedding store. Every backend implements
// it and is instantiated once per domain.
type ChunkStore interface {
	// Domain returns the domain whose content the store holds.
	Domain() domain.Domain

	// Dimension returns the fixed embedding dimension of the store.
	Dimension() int

	// Upsert inserts the chunk or replaces the one sharing its
	// (url, chunk_number). It returns the stored chunk with id and
	// created_at assigned.
	Upsert(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error)

	// Get returns the chunk stored under key.
	Get(ctx context.Context, key domain.ChunkKey) (domain.Chunk, error)

	// QueryNearest returns up to k chunks matching filter, ordered by
	// descending cosine similarity to query.
	QueryNearest(ctx context.Context, query []float32, k int, filter *domain.Filter) ([]domain.SearchResult, error)

	// Count returns the number of chunks in the store.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Generational is implemented by stores that can tell when their content
// changed, so cached search results can be invalidated.
type Generational interface {
	Generation() uint64
}
