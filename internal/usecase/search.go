package usecase

import (
	"context"
	"fmt"

	"campusrag/internal/domain"
	"campusrag/internal/port"
)

// DefaultMatchCount is the number of results returned when the caller does
// not ask for a specific count.
const DefaultMatchCount = 3

// ResolveMatchCount applies the default to an unset (zero) match count and
// rejects negative ones.
func ResolveMatchCount(n int) (int, error) {
	switch {
	case n == 0:
		return DefaultMatchCount, nil
	case n < 1:
		return 0, fmt.Errorf("%w: got %d", domain.ErrInvalidMatchCount, n)
	}
	return n, nil
}

// Search runs one similarity search against a single domain store. The
// result holds at most min(matchCount, store size) entries in descending
// similarity, each tagged with the store's domain. A query whose length
// differs from the store dimension fails with a *domain.DimensionError
// before the store is touched.
func Search(ctx context.Context, store port.ChunkStore, query []float32, matchCount int, filter *domain.Filter) ([]domain.SearchResult, error) {
	k, err := ResolveMatchCount(matchCount)
	if err != nil {
		return nil, err
	}
	if len(query) != store.Dimension() {
		return nil, &domain.DimensionError{Domain: store.Domain(), Expected: store.Dimension(), Got: len(query)}
	}

	results, err := store.QueryNearest(ctx, query, k, filter)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", store.Domain(), err)
	}

	for i := range results {
		results[i].Domain = store.Domain()
		results[i].Chunk.Embedding = nil
	}
	domain.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
