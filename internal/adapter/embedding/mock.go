package embedding

import (
	"context"
	"hash/fnv"

	"campusrag/internal/adapter/analyzer"
	"campusrag/internal/vecmath"
)

// MockEmbedder hashes stemmed tokens into a fixed number of buckets. Texts
// sharing words get similar vectors, which is enough for offline use and
// tests.
type MockEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension, tokenizer: analyzer.NewTokenizer(true)}
}

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.dimension)
		for _, tok := range e.tokenizer.Tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			v[int(h.Sum32()%uint32(e.dimension))]++
		}
		embeddings[i] = vecmath.Normalize(v)
	}
	return embeddings, nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
