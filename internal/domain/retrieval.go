package domain

import (
	"sort"
	"time"
)

// State is a stage of one retrieval.
type State string

const (
	StateRouting   State = "ROUTING"
	StateSearching State = "SEARCHING"
	StateMerging   State = "MERGING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// OutcomeStatus is how a single domain search ended.
type OutcomeStatus string

const (
	OutcomeOK                OutcomeStatus = "ok"
	OutcomeTimeout           OutcomeStatus = "timeout"
	OutcomeDimensionMismatch OutcomeStatus = "dimension_mismatch"
	OutcomeFailed            OutcomeStatus = "failed"
)

// DomainScore is the classifier confidence for one domain.
type DomainScore struct {
	Domain     Domain  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

// Classification is the raw classifier output, one score per domain.
type Classification struct {
	Scores []DomainScore `json:"scores"`
}

// Score returns the confidence for d, zero when absent.
func (c Classification) Score(d Domain) float64 {
	for _, s := range c.Scores {
		if s.Domain == d {
			return s.Confidence
		}
	}
	return 0
}

// RouteDecision is the set of domains a query is searched against.
type RouteDecision struct {
	Domains   []Domain      `json:"domains"`
	Broadcast bool          `json:"broadcast"`
	Reason    string        `json:"reason"`
	Scores    []DomainScore `json:"scores,omitempty"`
}

// DomainOutcome records how one domain search ended.
type DomainOutcome struct {
	Domain   Domain        `json:"domain"`
	Status   OutcomeStatus `json:"status"`
	Results  int           `json:"results"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Retrieval is the final product of one coordinated query.
type Retrieval struct {
	ID       string          `json:"id"`
	Query    string          `json:"query"`
	State    State           `json:"state"`
	Route    RouteDecision   `json:"route"`
	Results  []SearchResult  `json:"results"`
	Partial  bool            `json:"partial"`
	Outcomes []DomainOutcome `json:"outcomes"`
}

// Citations returns the citation of every result in rank order.
func (r *Retrieval) Citations() []Citation {
	out := make([]Citation, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Citation()
	}
	return out
}

// SortResults orders results by descending similarity. Equal scores are
// ordered by domain priority, then chunk id, then (url, chunk_number), so
// the same input always yields the same order.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return resultLess(results[i], results[j])
	})
}

func resultLess(a, b SearchResult) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if pa, pb := a.Domain.Priority(), b.Domain.Priority(); pa != pb {
		return pa < pb
	}
	if a.Chunk.ID != b.Chunk.ID {
		return a.Chunk.ID < b.Chunk.ID
	}
	if a.Chunk.URL != b.Chunk.URL {
		return a.Chunk.URL < b.Chunk.URL
	}
	return a.Chunk.ChunkNumber < b.Chunk.ChunkNumber
}
