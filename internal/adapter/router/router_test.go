package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrag/internal/domain"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(nil)

	tests := []struct {
		query string
		want  map[domain.Domain]float64
	}{
		{
			query: "Which professor teaches the visual computing course?",
			want:  map[domain.Domain]float64{domain.Faculty: 1},
		},
		{
			query: "What are the opening hours for the OVGU Mensa?",
			want:  map[domain.Domain]float64{domain.University: 1},
		},
		{
			query: "Tell me about the museum in Magdeburg",
			want:  map[domain.Domain]float64{domain.City: 1},
		},
		{
			query: "opening hours",
			want:  map[domain.Domain]float64{},
		},
		{
			query: "Computer science admission",
			want:  map[domain.Domain]float64{domain.Faculty: 0.5, domain.University: 0.5},
		},
		{
			query: "Wo finde ich Sehenswürdigkeiten in der Stadt?",
			want:  map[domain.Domain]float64{domain.City: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := c.Classify(context.Background(), tt.query)
			require.NoError(t, err)
			require.Len(t, got.Scores, 3)
			for _, d := range domain.AllDomains {
				assert.InDelta(t, tt.want[d], got.Score(d), 1e-9, "domain %s", d)
			}
		})
	}
}

func TestKeywordClassifierCustomKeywords(t *testing.T) {
	c := NewKeywordClassifier(map[domain.Domain][]string{
		domain.City: {"Dom", "Hundertwasser"},
	})
	got, err := c.Classify(context.Background(), "Wann ist der Dom geöffnet?")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Score(domain.City))
	assert.Zero(t, got.Score(domain.Faculty))
}

type fakeLLM struct {
	out string
	err error
}

func (f fakeLLM) GenerateJSON(ctx context.Context, system, user string) (string, error) {
	return f.out, f.err
}

func (f fakeLLM) ModelName() string { return "fake" }

func TestLLMClassifier(t *testing.T) {
	c := NewLLMClassifier(fakeLLM{out: "```json\n{\"faculty\": 0.9, \"ovgu\": 0.4, \"city\": 1.7}\n```"})
	got, err := c.Classify(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Score(domain.Faculty))
	assert.Equal(t, 0.4, got.Score(domain.University))
	assert.Equal(t, 1.0, got.Score(domain.City))

	_, err = NewLLMClassifier(fakeLLM{out: "not json"}).Classify(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrRoutingFailure)

	_, err = NewLLMClassifier(fakeLLM{err: errors.New("timeout")}).Classify(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrRoutingFailure)
}
