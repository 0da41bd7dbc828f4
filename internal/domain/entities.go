package domain

import (
	"fmt"
	"strings"
	"time"
)

// Domain identifies one of the three disjoint knowledge areas.
type Domain string

const (
	University Domain = "university"
	Faculty    Domain = "faculty"
	City       Domain = "city"
)

// AllDomains lists every domain in priority order. Ties between domains are
// always broken in this order.
var AllDomains = []Domain{Faculty, University, City}

var domainAliases = map[string]Domain{
	"university": University,
	"ovgu":       University,
	"faculty":    Faculty,
	"fin":        Faculty,
	"city":       City,
	"magdeburg":  City,
}

// ParseDomain resolves a domain id or one of its aliases.
func ParseDomain(s string) (Domain, error) {
	d, ok := domainAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
	}
	return d, nil
}

// Priority returns the tie-break rank of the domain (lower wins).
func (d Domain) Priority() int {
	for i, x := range AllDomains {
		if x == d {
			return i
		}
	}
	return len(AllDomains)
}

func (d Domain) String() string {
	return string(d)
}

// ChunkKey is the natural key of a chunk within a store.
type ChunkKey struct {
	URL         string
	ChunkNumber int
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s#%d", k.URL, k.ChunkNumber)
}

// Chunk is a unit of ingested content with its embedding.
type Chunk struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	ChunkNumber int       `json:"chunk_number"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Metadata    Metadata  `json:"metadata"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the (url, chunk_number) key of the chunk.
func (c Chunk) Key() ChunkKey {
	return ChunkKey{URL: c.URL, ChunkNumber: c.ChunkNumber}
}

// Validate checks the fields required for an upsert into a store of the
// given dimension.
func (c Chunk) Validate(dimension int) error {
	switch {
	case strings.TrimSpace(c.URL) == "":
		return &ConstraintError{Field: "url", Reason: "required"}
	case c.ChunkNumber < 0:
		return &ConstraintError{Field: "chunk_number", Reason: "must be >= 0"}
	case strings.TrimSpace(c.Content) == "":
		return &ConstraintError{Field: "content", Reason: "required"}
	case len(c.Embedding) == 0:
		return &ConstraintError{Field: "embedding", Reason: "required"}
	case len(c.Embedding) != dimension:
		return &ConstraintError{
			Field:  "embedding",
			Reason: fmt.Sprintf("dimension %d, store expects %d", len(c.Embedding), dimension),
		}
	}
	return nil
}

// SearchResult is a chunk scored against one query. It is never persisted.
type SearchResult struct {
	Domain     Domain  `json:"domain"`
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// Citation is the provenance of a result as the answer synthesizer cites it.
type Citation struct {
	Domain      Domain `json:"domain"`
	URL         string `json:"url"`
	ChunkNumber int    `json:"chunk_number"`
	Title       string `json:"title"`
	Page        int    `json:"page,omitempty"`
}

// Citation returns the citation for the result.
func (r SearchResult) Citation() Citation {
	page, _ := r.Chunk.Metadata.Page()
	return Citation{
		Domain:      r.Domain,
		URL:         r.Chunk.URL,
		ChunkNumber: r.Chunk.ChunkNumber,
		Title:       r.Chunk.Title,
		Page:        page,
	}
}

type PackedContext struct {
	Query        string    `json:"query"`
	BudgetTokens int       `json:"budget_tokens"`
	UsedTokens   int       `json:"used_tokens"`
	Partial      bool      `json:"partial"`
	Snippets     []Snippet `json:"snippets"`
}

type Snippet struct {
	Citation
	Similarity float64 `json:"similarity"`
	Text       string  `json:"text"`
}
