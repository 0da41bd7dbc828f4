// Package router holds the query classifiers behind the domain router.
package router

import (
	"context"
	"strings"

	"campusrag/internal/adapter/analyzer"
	"campusrag/internal/domain"
)

// DefaultKeywords returns the built-in keyword sets. English and German
// terms are mixed because queries arrive in both languages.
func DefaultKeywords() map[domain.Domain][]string {
	return map[domain.Domain][]string{
		domain.Faculty: {
			"fin", "fakultät für informatik", "informatics", "computer science", "dke",
			"data and knowledge engineering", "digital engineering", "software engineering",
			"visual computing", "department of informatics", "informatik", "g29", "g30",
			"g31", "g32", "g33", "g34", "g35", "g36", "g37", "g38", "g39", "g40",
			"prof.", "professor", "lecturer", "faculty", "research group", "research team",
			"hcai", "human-computer interaction", "artificial intelligence", "master program",
			"bachelor program", "course", "module", "curriculum", "study program",
		},
		domain.City: {
			"magdeburg", "city", "stadt", "sights", "sehenswürdigkeiten", "transport",
			"verkehr", "events", "veranstaltungen", "elbe", "hbf", "hauptbahnhof",
			"station", "bahnhof", "leben in magdeburg", "services", "things to do",
			"attractions", "tourist", "tourismus", "museum", "park", "restaurant",
			"cafe", "shopping", "hotel", "accommodation",
		},
		domain.University: {
			"ovgu", "university", "otto von guericke", "uni", "campus",
			"student union", "stw", "campus service", "service center", "library",
			"mensa", "cafeteria", "student life", "student services", "admission",
			"application", "enrollment", "registration", "examination", "exam",
			"lecture", "seminar", "tutorial", "study", "academics",
		},
	}
}

// KeywordClassifier scores domains by how many of their keywords occur in
// the query. A domain's confidence is its share of all keyword hits, so the
// scores sum to 1 whenever anything matched and are all 0 otherwise.
type KeywordClassifier struct {
	tokenizer *analyzer.Tokenizer
	keywords  map[domain.Domain][][]string
}

func NewKeywordClassifier(keywords map[domain.Domain][]string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}
	tok := analyzer.NewTokenizer(true)
	compiled := make(map[domain.Domain][][]string, len(keywords))
	for d, words := range keywords {
		seen := make(map[string]struct{}, len(words))
		for _, w := range words {
			phrase := tok.Tokenize(w)
			if len(phrase) == 0 {
				continue
			}
			key := strings.Join(phrase, " ")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			compiled[d] = append(compiled[d], phrase)
		}
	}
	return &KeywordClassifier{tokenizer: tok, keywords: compiled}
}

func (c *KeywordClassifier) Classify(ctx context.Context, query string) (domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}

	tokens := c.tokenizer.Tokenize(query)
	counts := make(map[domain.Domain]int, len(domain.AllDomains))
	total := 0
	for _, d := range domain.AllDomains {
		for _, phrase := range c.keywords[d] {
			if analyzer.ContainsPhrase(tokens, phrase) {
				counts[d]++
				total++
			}
		}
	}

	scores := make([]domain.DomainScore, 0, len(domain.AllDomains))
	for _, d := range domain.AllDomains {
		conf := 0.0
		if total > 0 {
			conf = float64(counts[d]) / float64(total)
		}
		scores = append(scores, domain.DomainScore{Domain: d, Confidence: conf})
	}
	return domain.Classification{Scores: scores}, nil
}
