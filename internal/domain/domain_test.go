package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDomain(t *testing.T) {
	tests := []struct {
		in   string
		want Domain
	}{
		{"university", University},
		{"OVGU", University},
		{" fin ", Faculty},
		{"faculty", Faculty},
		{"Magdeburg", City},
		{"city", City},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDomain(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseDomain("berlin")
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestChunkValidate(t *testing.T) {
	valid := Chunk{URL: "https://fin.ovgu.de", ChunkNumber: 0, Content: "x", Embedding: []float32{1, 0}}
	require.NoError(t, valid.Validate(2))

	tests := []struct {
		name  string
		mod   func(c *Chunk)
		field string
	}{
		{"missing url", func(c *Chunk) { c.URL = "" }, "url"},
		{"negative chunk number", func(c *Chunk) { c.ChunkNumber = -1 }, "chunk_number"},
		{"missing content", func(c *Chunk) { c.Content = "  " }, "content"},
		{"missing embedding", func(c *Chunk) { c.Embedding = nil }, "embedding"},
		{"wrong dimension", func(c *Chunk) { c.Embedding = []float32{1, 2, 3} }, "embedding"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mod(&c)
			err := c.Validate(2)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConstraintViolation))
			var ce *ConstraintError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestMetadataPage(t *testing.T) {
	assert.Equal(t, 3, mustPage(t, Metadata{"page": 3}))
	assert.Equal(t, 3, mustPage(t, Metadata{"page": float64(3)}))
	assert.Equal(t, 7, mustPage(t, Metadata{"is_pdf": true, "pdf_page_number": 7}))

	_, ok := Metadata{"page": "three"}.Page()
	assert.False(t, ok)
	_, ok = Metadata{"page": "3"}.Page()
	assert.False(t, ok)
	_, ok = Metadata{"page": 2.5}.Page()
	assert.False(t, ok)
}

func mustPage(t *testing.T, m Metadata) int {
	t.Helper()
	p, ok := m.Page()
	require.True(t, ok)
	return p
}

func TestFilterMatch(t *testing.T) {
	var decoded Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"source":"pdf","page":3}`), &decoded))

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil filter", nil, true},
		{"equals string", &Filter{Equals: map[string]any{"source": "pdf"}}, true},
		{"equals mismatch", &Filter{Equals: map[string]any{"source": "web"}}, false},
		{"equals int against float", &Filter{Equals: map[string]any{"page": 3}}, true},
		{"missing key", &Filter{Equals: map[string]any{"lang": "de"}}, false},
		{"page range inside", PageRange(1, 3), true},
		{"page range outside", PageRange(4, 9), false},
		{"combined", &Filter{Equals: map[string]any{"source": "pdf"}, Ranges: PageRange(2, 5).Ranges}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Match(decoded))
		})
	}
}

func TestFilterMatchDoesNotCoerceStrings(t *testing.T) {
	stringly := Metadata{"page": "3", "is_pdf": "true", "source": "3"}

	tests := []struct {
		name   string
		filter *Filter
	}{
		{"string page against number", &Filter{Equals: map[string]any{"page": 3}}},
		{"string flag against bool", &Filter{Equals: map[string]any{"is_pdf": true}}},
		{"number against string source", &Filter{Equals: map[string]any{"source": 3}}},
		{"string page in range", PageRange(1, 5)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, tc.filter.Match(stringly))
		})
	}

	typed := Metadata{"page": int64(3), "is_pdf": true}
	assert.True(t, (&Filter{Equals: map[string]any{"page": 3.0, "is_pdf": true}}).Match(typed))
	assert.False(t, (&Filter{Equals: map[string]any{"is_pdf": false}}).Match(typed))
}

func TestSortResultsStableTieBreak(t *testing.T) {
	results := []SearchResult{
		{Domain: City, Chunk: Chunk{ID: 1}, Similarity: 0.5},
		{Domain: Faculty, Chunk: Chunk{ID: 9}, Similarity: 0.5},
		{Domain: University, Chunk: Chunk{ID: 2}, Similarity: 0.9},
		{Domain: Faculty, Chunk: Chunk{ID: 3}, Similarity: 0.5},
		{Domain: City, Chunk: Chunk{ID: 4}, Similarity: -0.2},
	}

	SortResults(results)

	got := make([]int64, len(results))
	for i, r := range results {
		got[i] = r.Chunk.ID
	}
	assert.Equal(t, []int64{2, 3, 9, 1, 4}, got)
}

func TestErrorsUnwrap(t *testing.T) {
	err := error(&DimensionError{Domain: City, Expected: 1536, Got: 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "expected 1536, got 3")
}
