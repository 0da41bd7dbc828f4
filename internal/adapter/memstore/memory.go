package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"campusrag/internal/domain"
	"campusrag/internal/index"
	"campusrag/internal/vecmath"
)

// MemoryStore holds one domain's chunks in memory and answers nearest
// neighbour queries through an IVF index. It is the "memory" backend and the
// read cache of the bolt backend.
type MemoryStore struct {
	domain    domain.Domain
	dimension int

	mu     sync.RWMutex
	chunks map[int64]domain.Chunk
	keys   map[domain.ChunkKey]int64
	nextID int64
	idx    *index.IVF
	gen    atomic.Uint64

	now func() time.Time
}

func NewMemoryStore(d domain.Domain, dimension int, opts index.Options) *MemoryStore {
	return &MemoryStore{
		domain:    d,
		dimension: dimension,
		chunks:    make(map[int64]domain.Chunk),
		keys:      make(map[domain.ChunkKey]int64),
		idx:       index.New(opts),
		now:       time.Now,
	}
}

func (s *MemoryStore) Domain() domain.Domain { return s.domain }

func (s *MemoryStore) Dimension() int { return s.dimension }

// Generation changes every time the stored content changes.
func (s *MemoryStore) Generation() uint64 { return s.gen.Load() }

// Upsert inserts the chunk or replaces the one with the same key. A replaced
// chunk keeps its id and created_at.
func (s *MemoryStore) Upsert(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return domain.Chunk{}, err
	}
	if err := chunk.Validate(s.dimension); err != nil {
		return domain.Chunk{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.keys[chunk.Key()]; ok {
		chunk.ID = id
		chunk.CreatedAt = s.chunks[id].CreatedAt
	} else {
		s.nextID++
		chunk.ID = s.nextID
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = s.now().UTC()
		}
	}
	s.putLocked(chunk)
	return cloneChunk(chunk, true), nil
}

// Put stores a chunk whose id and created_at were assigned elsewhere.
func (s *MemoryStore) Put(chunk domain.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(chunk)
}

func (s *MemoryStore) putLocked(chunk domain.Chunk) {
	if old, ok := s.keys[chunk.Key()]; ok && old != chunk.ID {
		delete(s.chunks, old)
	}
	chunk = cloneChunk(chunk, true)
	if chunk.Metadata == nil {
		chunk.Metadata = domain.Metadata{}
	}
	s.chunks[chunk.ID] = chunk
	s.keys[chunk.Key()] = chunk.ID
	if chunk.ID > s.nextID {
		s.nextID = chunk.ID
	}
	s.idx.Add(chunk.ID, chunk.Embedding)
	s.gen.Add(1)
}

func (s *MemoryStore) Get(ctx context.Context, key domain.ChunkKey) (domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return domain.Chunk{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[key]
	if !ok {
		return domain.Chunk{}, fmt.Errorf("%w: %s chunk %s", domain.ErrNotFound, s.domain, key)
	}
	return cloneChunk(s.chunks[id], true), nil
}

// QueryNearest scores the probed candidates and returns the best k that pass
// filter. When filtering leaves fewer than k approximate hits the whole
// collection is scanned instead.
func (s *MemoryStore) QueryNearest(ctx context.Context, query []float32, k int, filter *domain.Filter) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, domain.ErrInvalidMatchCount
	}
	if len(query) != s.dimension {
		return nil, &domain.DimensionError{Domain: s.domain, Expected: s.dimension, Got: len(query)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 {
		return []domain.SearchResult{}, nil
	}

	ids, exact := s.idx.Candidates(query, k)
	results, err := s.score(ctx, query, ids, exact, filter)
	if err != nil {
		return nil, err
	}
	if !exact && len(results) < k && len(results) < len(s.chunks) {
		if results, err = s.score(ctx, query, nil, true, filter); err != nil {
			return nil, err
		}
	}

	domain.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) score(ctx context.Context, query []float32, ids []int64, all bool, filter *domain.Filter) ([]domain.SearchResult, error) {
	results := make([]domain.SearchResult, 0, len(ids))
	visit := func(c domain.Chunk) {
		if !filter.Match(c.Metadata) {
			return
		}
		results = append(results, domain.SearchResult{
			Domain:     s.domain,
			Chunk:      cloneChunk(c, false),
			Similarity: vecmath.Cosine(query, c.Embedding),
		})
	}

	if all {
		n := 0
		for _, c := range s.chunks {
			if n++; n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			visit(c)
		}
		return results, ctx.Err()
	}
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			visit(c)
		}
	}
	return results, ctx.Err()
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// All returns every stored chunk ordered by id.
func (s *MemoryStore) All() []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chunk, 0, len(s.chunks))
	for id := int64(1); id <= s.nextID; id++ {
		if c, ok := s.chunks[id]; ok {
			out = append(out, cloneChunk(c, true))
		}
	}
	return out
}

// Reset drops every chunk. Ids restart at 1.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[int64]domain.Chunk)
	s.keys = make(map[domain.ChunkKey]int64)
	s.nextID = 0
	s.idx = index.New(s.idx.Options())
	s.gen.Add(1)
}

func (s *MemoryStore) Close() error {
	return nil
}

// cloneChunk copies the mutable parts of c. Search results leave out the
// embedding.
func cloneChunk(c domain.Chunk, withEmbedding bool) domain.Chunk {
	c.Metadata = c.Metadata.Clone()
	if withEmbedding {
		emb := make([]float32, len(c.Embedding))
		copy(emb, c.Embedding)
		c.Embedding = emb
	} else {
		c.Embedding = nil
	}
	return c
}
