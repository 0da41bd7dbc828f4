package usecase

import (
	"context"
	"errors"
	"fmt"

	"campusrag/internal/domain"
	"campusrag/internal/port"
)

// neighbourDecay scales the similarity of an added neighbour relative to
// the result it was found through.
const neighbourDecay = 0.5

// ContextExpander adds the chunks surrounding each result, so a hit from the
// middle of a page brings the text before and after it.
type ContextExpander struct {
	stores       map[domain.Domain]port.ChunkStore
	window       int
	maxExpansion int // Max chunks to add per result
}

// NewContextExpander creates an expander looking window chunk numbers to
// either side of a result. A window below 1 is treated as 1.
func NewContextExpander(stores map[domain.Domain]port.ChunkStore, window int) *ContextExpander {
	if window < 1 {
		window = 1
	}
	return &ContextExpander{
		stores:       stores,
		window:       window,
		maxExpansion: 2 * window,
	}
}

// Expand returns a copy of ret whose results are followed by the missing
// neighbours of every result. Neighbours that do not exist are skipped.
func (e *ContextExpander) Expand(ctx context.Context, ret *domain.Retrieval) (*domain.Retrieval, error) {
	out := *ret
	if len(ret.Results) == 0 {
		return &out, nil
	}

	type key struct {
		d domain.Domain
		k domain.ChunkKey
	}
	included := make(map[key]bool, len(ret.Results))
	for _, r := range ret.Results {
		included[key{r.Domain, r.Chunk.Key()}] = true
	}

	expanded := make([]domain.SearchResult, 0, len(ret.Results))
	expanded = append(expanded, ret.Results...)

	for _, r := range ret.Results {
		st, ok := e.stores[r.Domain]
		if !ok {
			continue
		}

		added := 0
		for _, n := range e.neighbours(r.Chunk.ChunkNumber) {
			if added >= e.maxExpansion {
				break
			}
			k := domain.ChunkKey{URL: r.Chunk.URL, ChunkNumber: n}
			if included[key{r.Domain, k}] {
				continue
			}

			chunk, err := st.Get(ctx, k)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("expand %s %s: %w", r.Domain, k, err)
			}
			chunk.Embedding = nil

			expanded = append(expanded, domain.SearchResult{
				Domain:     r.Domain,
				Chunk:      chunk,
				Similarity: r.Similarity * neighbourDecay,
			})
			included[key{r.Domain, k}] = true
			added++
		}
	}

	out.Results = expanded
	return &out, nil
}

// neighbours lists the chunk numbers around n, nearest first.
func (e *ContextExpander) neighbours(n int) []int {
	out := make([]int, 0, 2*e.window)
	for d := 1; d <= e.window; d++ {
		if n-d >= 0 {
			out = append(out, n-d)
		}
		out = append(out, n+d)
	}
	return out
}
