package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"campusrag/internal/adapter/memstore"
	"campusrag/internal/domain"
	"campusrag/internal/index"
	"campusrag/internal/logger"
	"campusrag/internal/port"
)

// seedStore creates a memory store for d holding one chunk per vector.
func seedStore(t *testing.T, d domain.Domain, vectors ...[]float32) *memstore.MemoryStore {
	t.Helper()
	dim := 4
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	s := memstore.NewMemoryStore(d, dim, index.Options{})
	for i, v := range vectors {
		_, err := s.Upsert(context.Background(), domain.Chunk{
			URL:         fmt.Sprintf("https://%s.example/page-%d", d, i),
			ChunkNumber: 0,
			Title:       fmt.Sprintf("%s page %d", d, i),
			Content:     fmt.Sprintf("content %d of %s", i, d),
			Metadata:    domain.Metadata{"source": d.String() + "_docs"},
			Embedding:   v,
		})
		require.NoError(t, err)
	}
	return s
}

type fixedClassifier struct {
	scores map[domain.Domain]float64
	err    error
}

func (f fixedClassifier) Classify(ctx context.Context, query string) (domain.Classification, error) {
	if f.err != nil {
		return domain.Classification{}, f.err
	}
	var c domain.Classification
	for _, d := range domain.AllDomains {
		c.Scores = append(c.Scores, domain.DomainScore{Domain: d, Confidence: f.scores[d]})
	}
	return c, nil
}

// blockingStore ignores the context and answers only after release is
// closed, like a backend stuck on a network round trip.
type blockingStore struct {
	port.ChunkStore
	release chan struct{}
}

func (s *blockingStore) QueryNearest(ctx context.Context, q []float32, k int, f *domain.Filter) ([]domain.SearchResult, error) {
	<-s.release
	return s.ChunkStore.QueryNearest(ctx, q, k, f)
}

// slowStore waits delay but gives up when the context ends.
type slowStore struct {
	port.ChunkStore
	delay time.Duration
}

func (s *slowStore) QueryNearest(ctx context.Context, q []float32, k int, f *domain.Filter) ([]domain.SearchResult, error) {
	select {
	case <-time.After(s.delay):
		return s.ChunkStore.QueryNearest(ctx, q, k, f)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type failingStore struct {
	port.ChunkStore
	err error
}

func (s *failingStore) QueryNearest(ctx context.Context, q []float32, k int, f *domain.Filter) ([]domain.SearchResult, error) {
	return nil, s.err
}

func (s *failingStore) Get(ctx context.Context, key domain.ChunkKey) (domain.Chunk, error) {
	return domain.Chunk{}, s.err
}

func newCoordinator(classifier port.Classifier, stores map[domain.Domain]port.ChunkStore, opts CoordinatorOptions) *Coordinator {
	log := logger.Discard()
	router := NewRouter(classifier, DefaultConfidenceThreshold, nil, log)
	return NewCoordinator(router, stores, nil, opts, log)
}
