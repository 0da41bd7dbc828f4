package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"campusrag/internal/domain"
	"campusrag/internal/port"
)

// DefaultConfidenceThreshold is the minimum classifier confidence for a
// domain to be searched on its own.
const DefaultConfidenceThreshold = 0.5

// Broadcast reasons reported in a RouteDecision.
const (
	ReasonClassified      = "classified"
	ReasonNoSignal        = "no domain signal"
	ReasonLowConfidence   = "confidence below threshold"
	ReasonClassifierError = "classifier error"
	ReasonNoClassifier    = "no classifier"
	ReasonForced          = "forced"
)

// Router decides which domains a query is searched against. It never
// fails: whenever the classifier gives no usable answer the query is
// broadcast to every domain.
type Router struct {
	classifier port.Classifier
	threshold  float64
	domains    []domain.Domain
	logger     *slog.Logger
}

// NewRouter creates a router over the given domains. A nil domain list
// means all domains.
func NewRouter(classifier port.Classifier, threshold float64, domains []domain.Domain, logger *slog.Logger) *Router {
	if len(domains) == 0 {
		domains = domain.AllDomains
	}
	if logger == nil {
		logger = slog.Default()
	}
	ordered := append([]domain.Domain(nil), domains...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})
	return &Router{
		classifier: classifier,
		threshold:  threshold,
		domains:    ordered,
		logger:     logger,
	}
}

// Domains returns the domains the router can select, in priority order.
func (r *Router) Domains() []domain.Domain {
	return append([]domain.Domain(nil), r.domains...)
}

// Route classifies the query. Domains whose confidence reaches the
// threshold are returned by descending confidence, ties in priority order.
func (r *Router) Route(ctx context.Context, query string) domain.RouteDecision {
	if r.classifier == nil {
		return r.broadcast(ReasonNoClassifier, nil)
	}

	cls, err := r.classifier.Classify(ctx, query)
	if err != nil {
		r.logger.Warn("classifier failed, broadcasting", "error", err)
		return r.broadcast(ReasonClassifierError, nil)
	}

	scores := make([]domain.DomainScore, 0, len(r.domains))
	matched := false
	for _, d := range r.domains {
		s := cls.Score(d)
		if s > 0 {
			matched = true
		}
		scores = append(scores, domain.DomainScore{Domain: d, Confidence: s})
	}
	if !matched {
		return r.broadcast(ReasonNoSignal, scores)
	}

	selected := make([]domain.DomainScore, 0, len(scores))
	for _, s := range scores {
		if s.Confidence >= r.threshold {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		return r.broadcast(ReasonLowConfidence, scores)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Confidence != selected[j].Confidence {
			return selected[i].Confidence > selected[j].Confidence
		}
		return selected[i].Domain.Priority() < selected[j].Domain.Priority()
	})

	decision := domain.RouteDecision{Reason: ReasonClassified, Scores: scores}
	for _, s := range selected {
		decision.Domains = append(decision.Domains, s.Domain)
	}
	r.logger.Debug("routed query", "domains", decision.Domains)
	return decision
}

// Force builds a decision for an explicit domain set, bypassing the
// classifier. Unknown and duplicate domains are rejected.
func (r *Router) Force(domains []domain.Domain) (domain.RouteDecision, error) {
	if len(domains) == 0 {
		return domain.RouteDecision{}, fmt.Errorf("%w: empty domain set", domain.ErrUnknownDomain)
	}
	seen := make(map[domain.Domain]bool, len(domains))
	out := make([]domain.Domain, 0, len(domains))
	for _, d := range domains {
		if !r.knows(d) {
			return domain.RouteDecision{}, fmt.Errorf("%w: %s", domain.ErrUnknownDomain, d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return domain.RouteDecision{Domains: out, Reason: ReasonForced}, nil
}

func (r *Router) knows(d domain.Domain) bool {
	for _, x := range r.domains {
		if x == d {
			return true
		}
	}
	return false
}

func (r *Router) broadcast(reason string, scores []domain.DomainScore) domain.RouteDecision {
	r.logger.Debug("broadcasting query", "reason", reason)
	return domain.RouteDecision{
		Domains:   r.Domains(),
		Broadcast: true,
		Reason:    reason,
		Scores:    scores,
	}
}
