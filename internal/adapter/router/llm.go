package router

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"campusrag/internal/domain"
	"campusrag/internal/port"
)

const classifyPrompt = `You route questions for a campus assistant. Score how strongly the question belongs to each knowledge area, from 0 to 1:
- "faculty": the Faculty of Computer Science (FIN): its programs, courses, modules, professors, research groups.
- "university": Otto von Guericke University (OVGU) in general: admission, enrollment, exams, library, mensa, campus services.
- "city": the city of Magdeburg: sights, transport, events, restaurants, accommodation.
Respond with one JSON object: {"faculty":number,"university":number,"city":number}`

// LLMClassifier asks a chat model for per-domain confidences.
type LLMClassifier struct {
	llm port.LLM
}

func NewLLMClassifier(llm port.LLM) *LLMClassifier {
	return &LLMClassifier{llm: llm}
}

func (c *LLMClassifier) Classify(ctx context.Context, query string) (domain.Classification, error) {
	out, err := c.llm.GenerateJSON(ctx, classifyPrompt, query)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("%w: %v", domain.ErrRoutingFailure, err)
	}
	return parseScores(out)
}

func parseScores(out string) (domain.Classification, error) {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")

	var raw map[string]float64
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return domain.Classification{}, fmt.Errorf("%w: invalid classifier output: %v", domain.ErrRoutingFailure, err)
	}

	scores := make([]domain.DomainScore, 0, len(domain.AllDomains))
	for _, d := range domain.AllDomains {
		conf := 0.0
		for key, v := range raw {
			if parsed, err := domain.ParseDomain(key); err == nil && parsed == d {
				conf = math.Max(conf, v)
			}
		}
		if math.IsNaN(conf) {
			conf = 0
		}
		scores = append(scores, domain.DomainScore{Domain: d, Confidence: math.Max(0, math.Min(1, conf))})
	}
	return domain.Classification{Scores: scores}, nil
}
