package usecase

import (
	"strings"
	"testing"

	"campusrag/internal/adapter/analyzer"
	"campusrag/internal/domain"
)

func result(d domain.Domain, id int64, url string, n int, sim float64, text string) domain.SearchResult {
	return domain.SearchResult{
		Domain: d,
		Chunk: domain.Chunk{
			ID:          id,
			URL:         url,
			ChunkNumber: n,
			Title:       "Title of " + url,
			Content:     text,
		},
		Similarity: sim,
	}
}

func TestPackBudget(t *testing.T) {
	tokenizer := analyzer.NewTokenizer(true)
	packUC := NewPackUseCase(tokenizer)

	ret := &domain.Retrieval{
		Query: "test query",
		Results: []domain.SearchResult{
			result(domain.Faculty, 1, "https://fin.ovgu.de/a", 0, 1.0, "This is a short chunk of text"),
			result(domain.University, 2, "https://www.ovgu.de/b", 3, 0.8, "Another chunk with some more text here for testing purposes"),
			result(domain.City, 3, "https://www.magdeburg.de/c", 1, 0.6, "Yet another chunk"),
		},
	}

	// Small budget, only some results fit.
	packed := packUC.Pack(ret, 20)
	if packed.UsedTokens > 20 {
		t.Errorf("packed context exceeds budget: %d > 20", packed.UsedTokens)
	}
	if packed.BudgetTokens != 20 {
		t.Errorf("expected budget 20, got %d", packed.BudgetTokens)
	}
	if len(packed.Snippets) == 0 || len(packed.Snippets) == 3 {
		t.Errorf("expected a strict subset of snippets, got %d", len(packed.Snippets))
	}

	// Large budget, everything fits in retrieval order.
	packed = packUC.Pack(ret, 1000)
	if len(packed.Snippets) != 3 {
		t.Fatalf("expected 3 snippets, got %d", len(packed.Snippets))
	}
	for i, s := range packed.Snippets {
		if s.URL != ret.Results[i].Chunk.URL {
			t.Errorf("snippet %d: expected %s, got %s", i, ret.Results[i].Chunk.URL, s.URL)
		}
		if s.Title == "" {
			t.Error("snippet missing title")
		}
		if s.Domain != ret.Results[i].Domain {
			t.Errorf("snippet %d: expected domain %s, got %s", i, ret.Results[i].Domain, s.Domain)
		}
	}
	if packed.Snippets[1].ChunkNumber != 3 {
		t.Errorf("expected chunk number 3, got %d", packed.Snippets[1].ChunkNumber)
	}
}

func TestPackEmptyRetrieval(t *testing.T) {
	packUC := NewPackUseCase(analyzer.NewTokenizer(true))

	packed := packUC.Pack(&domain.Retrieval{Query: "test query", Partial: true}, 1000)
	if packed.UsedTokens != 0 {
		t.Errorf("expected 0 used tokens for empty retrieval, got %d", packed.UsedTokens)
	}
	if len(packed.Snippets) != 0 {
		t.Errorf("expected 0 snippets for empty retrieval, got %d", len(packed.Snippets))
	}
	if !packed.Partial {
		t.Error("expected partial flag to carry over")
	}
}

func TestPackMergeAdjacent(t *testing.T) {
	packUC := NewPackUseCase(analyzer.NewTokenizer(true))

	ret := &domain.Retrieval{
		Results: []domain.SearchResult{
			result(domain.Faculty, 1, "https://fin.ovgu.de/study", 2, 1.0, "chunk two"),
			result(domain.Faculty, 2, "https://fin.ovgu.de/study", 1, 0.9, "chunk one"),
			result(domain.Faculty, 3, "https://fin.ovgu.de/study", 7, 0.8, "chunk seven"),
			result(domain.City, 4, "https://fin.ovgu.de/study", 3, 0.7, "other domain"),
		},
	}

	packed := packUC.Pack(ret, 0)
	if len(packed.Snippets) != 3 {
		t.Fatalf("expected chunks 1 and 2 to merge into 3 snippets, got %d", len(packed.Snippets))
	}

	first := packed.Snippets[0]
	if first.ChunkNumber != 1 {
		t.Errorf("merged snippet should start at chunk 1, got %d", first.ChunkNumber)
	}
	if first.Text != "chunk one\nchunk two" {
		t.Errorf("unexpected merged text: %q", first.Text)
	}
	if first.Similarity != 1.0 {
		t.Errorf("merged snippet should keep best similarity, got %f", first.Similarity)
	}
	if packed.Snippets[2].Domain != domain.City {
		t.Errorf("chunks from another domain must not merge")
	}
}

func TestPackUtilityRanking(t *testing.T) {
	packUC := NewPackUseCase(analyzer.NewTokenizer(true))

	ret := &domain.Retrieval{
		Results: []domain.SearchResult{
			result(domain.University, 1, "https://www.ovgu.de/big", 0, 1.0,
				"This is a very long chunk with lots of text that takes many tokens to represent properly and thoroughly"),
			result(domain.University, 2, "https://www.ovgu.de/small", 0, 0.9, "compact useful"),
		},
	}

	// With a tight budget the smaller chunk wins on similarity per token.
	packed := packUC.Pack(ret, 10)
	if len(packed.Snippets) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(packed.Snippets))
	}
	if packed.Snippets[0].URL != "https://www.ovgu.de/small" {
		t.Errorf("expected the compact chunk, got %s", packed.Snippets[0].URL)
	}
}

func TestFormatContext(t *testing.T) {
	packed := domain.PackedContext{
		Snippets: []domain.Snippet{
			{
				Citation: domain.Citation{URL: "https://www.ovgu.de/exam.pdf", Page: 4, Title: "Exam rules"},
				Text:     "Exams take place in February.",
			},
			{
				Citation: domain.Citation{URL: "https://www.magdeburg.de/dom"},
				Text:     "The cathedral opens at 10.",
			},
		},
	}

	out := FormatContext(packed)
	want := "**Source**: https://www.ovgu.de/exam.pdf (Page 4)\n**Title**: Exam rules\n**Content**:\nExams take place in February." +
		"\n\n---\n\n" +
		"**Source**: https://www.magdeburg.de/dom\n**Content**:\nThe cathedral opens at 10."
	if out != want {
		t.Errorf("unexpected context:\n%s\nwant:\n%s", out, want)
	}

	packed.Partial = true
	if !strings.HasSuffix(FormatContext(packed), PartialNote) {
		t.Error("partial context should end with the partial note")
	}

	if got := FormatContext(domain.PackedContext{}); got != NoResultsMessage {
		t.Errorf("unexpected empty context: %q", got)
	}
}
