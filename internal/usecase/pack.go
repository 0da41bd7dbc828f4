package usecase

import (
	"fmt"
	"sort"
	"strings"

	"campusrag/internal/adapter/analyzer"
	"campusrag/internal/domain"
)

// NoResultsMessage is the context handed to the answer synthesizer when a
// retrieval found nothing.
const NoResultsMessage = "I could not find specific information about that topic in the available documentation."

// PartialNote is appended to the context of a partial retrieval.
const PartialNote = "Note: not all sources could be checked for this question, so the information above may be incomplete."

// PackUseCase turns a retrieval into cited snippets that fit a token
// budget.
type PackUseCase struct {
	tokenizer *analyzer.Tokenizer
}

func NewPackUseCase(tokenizer *analyzer.Tokenizer) *PackUseCase {
	return &PackUseCase{tokenizer: tokenizer}
}

// Pack selects results within budget tokens. A budget <= 0 disables the
// limit.
func (u *PackUseCase) Pack(ret *domain.Retrieval, budget int) domain.PackedContext {
	packed := domain.PackedContext{
		Query:        ret.Query,
		BudgetTokens: budget,
		Partial:      ret.Partial,
		Snippets:     []domain.Snippet{},
	}
	if len(ret.Results) == 0 {
		return packed
	}

	// Utility = similarity / token cost
	type rankedResult struct {
		rank    int
		result  domain.SearchResult
		utility float64
		tokens  int
	}

	ranked := make([]rankedResult, 0, len(ret.Results))
	for i, r := range ret.Results {
		tokens := u.tokenizer.CountTokens(r.Chunk.Content)
		if tokens == 0 {
			tokens = 1
		}
		ranked = append(ranked, rankedResult{
			rank:    i,
			result:  r,
			utility: r.Similarity / float64(tokens),
			tokens:  tokens,
		})
	}

	if budget > 0 {
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].utility > ranked[j].utility
		})
	}

	selected := make([]rankedResult, 0, len(ranked))
	for _, rr := range ranked {
		if budget > 0 && packed.UsedTokens+rr.tokens > budget {
			continue
		}
		selected = append(selected, rr)
		packed.UsedTokens += rr.tokens
	}

	// Back to retrieval order for presentation.
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].rank < selected[j].rank
	})
	results := make([]domain.SearchResult, len(selected))
	for i, rr := range selected {
		results[i] = rr.result
	}

	for _, r := range mergeAdjacentChunks(results) {
		packed.Snippets = append(packed.Snippets, domain.Snippet{
			Citation:   r.Citation(),
			Similarity: r.Similarity,
			Text:       r.Chunk.Content,
		})
	}
	return packed
}

// mergeAdjacentChunks joins consecutive chunks of the same page into one
// result. The merged result takes the position and the best similarity of
// its highest ranked part.
func mergeAdjacentChunks(results []domain.SearchResult) []domain.SearchResult {
	if len(results) <= 1 {
		return results
	}

	type page struct {
		d   domain.Domain
		url string
	}
	order := make([]page, 0, len(results))
	byPage := make(map[page][]domain.SearchResult)
	for _, r := range results {
		p := page{r.Domain, r.Chunk.URL}
		if _, ok := byPage[p]; !ok {
			order = append(order, p)
		}
		byPage[p] = append(byPage[p], r)
	}

	merged := make([]domain.SearchResult, 0, len(results))
	for _, p := range order {
		chunks := byPage[p]
		if len(chunks) == 1 {
			merged = append(merged, chunks[0])
			continue
		}
		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].Chunk.ChunkNumber < chunks[j].Chunk.ChunkNumber
		})

		i := 0
		for i < len(chunks) {
			cur := chunks[i]
			last := cur.Chunk.ChunkNumber
			j := i + 1
			for j < len(chunks) && chunks[j].Chunk.ChunkNumber == last+1 {
				next := chunks[j]
				cur.Chunk.Content = cur.Chunk.Content + "\n" + next.Chunk.Content
				cur.Similarity = max(cur.Similarity, next.Similarity)
				last = next.Chunk.ChunkNumber
				j++
			}
			merged = append(merged, cur)
			i = j
		}
	}

	domain.SortResults(merged)
	return merged
}

// FormatContext renders packed snippets as the plain-text context of an
// answer prompt.
func FormatContext(packed domain.PackedContext) string {
	if len(packed.Snippets) == 0 {
		if packed.Partial {
			return NoResultsMessage + "\n\n" + PartialNote
		}
		return NoResultsMessage
	}

	blocks := make([]string, 0, len(packed.Snippets))
	for _, s := range packed.Snippets {
		var b strings.Builder
		fmt.Fprintf(&b, "**Source**: %s", s.URL)
		if s.Page > 0 {
			fmt.Fprintf(&b, " (Page %d)", s.Page)
		}
		b.WriteString("\n")
		if s.Title != "" {
			fmt.Fprintf(&b, "**Title**: %s\n", s.Title)
		}
		fmt.Fprintf(&b, "**Content**:\n%s", s.Text)
		blocks = append(blocks, b.String())
	}

	out := strings.Join(blocks, "\n\n---\n\n")
	if packed.Partial {
		out += "\n\n" + PartialNote
	}
	return out
}
