package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"campusrag/internal/domain"
	"campusrag/internal/observability"
	"campusrag/internal/port"
)

// Merge normalization strategies.
const (
	NormalizeNone   = "none"
	NormalizeMinMax = "minmax"
)

// CoordinatorOptions tunes a Coordinator. Zero values select defaults.
type CoordinatorOptions struct {
	// Timeout is the overall deadline of the SEARCHING state. Zero only
	// honours the caller's context.
	Timeout time.Duration

	// MaxConcurrency caps concurrent domain searches. Zero searches every
	// selected domain at once.
	MaxConcurrency int

	// MatchCount is the global cap on merged results.
	MatchCount int

	// DomainMatchCount is the search depth of each domain. A domain is
	// never searched for fewer results than the request match count.
	DomainMatchCount map[domain.Domain]int

	// Normalization is NormalizeNone or NormalizeMinMax.
	Normalization string

	// EmbeddingModels names the model behind each domain's vectors.
	EmbeddingModels map[domain.Domain]string
}

// Request is one query handed to the coordinator.
type Request struct {
	Query string

	// Vector is the query embedding. When empty the coordinator embeds
	// Query with its embedder.
	Vector []float32

	MatchCount int
	Filter     *domain.Filter

	// Domains bypasses the router when set.
	Domains []domain.Domain
}

// Coordinator runs routing, the per-domain fan-out and the merge for one
// query at a time. It is safe for concurrent use.
type Coordinator struct {
	router   *Router
	stores   map[domain.Domain]port.ChunkStore
	embedder port.Embedder
	opts     CoordinatorOptions
	logger   *slog.Logger
	newID    func() string
}

// NewCoordinator wires a router to the per-domain stores. The embedder may
// be nil when every request carries its own vector.
func NewCoordinator(
	router *Router,
	stores map[domain.Domain]port.ChunkStore,
	embedder port.Embedder,
	opts CoordinatorOptions,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Normalization == "" {
		opts.Normalization = NormalizeNone
	}
	return &Coordinator{
		router:   router,
		stores:   stores,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// domainSearch is the slot one domain search writes its outcome into.
type domainSearch struct {
	domain   domain.Domain
	k        int
	done     bool
	results  []domain.SearchResult
	outcome  domain.DomainOutcome
	fatalErr error
}

// Retrieve answers one request. The returned retrieval always carries a
// ranked (possibly empty) result list and the partial flag. An error is
// returned only when the retrieval ends FAILED, wrapping
// domain.ErrRetrievalFailed and the store failure that caused it.
func (c *Coordinator) Retrieve(ctx context.Context, req Request) (*domain.Retrieval, error) {
	matchCount := req.MatchCount
	if matchCount == 0 {
		matchCount = c.opts.MatchCount
	}
	matchCount, err := ResolveMatchCount(matchCount)
	if err != nil {
		return nil, err
	}

	ret := &domain.Retrieval{
		ID:       c.newID(),
		Query:    req.Query,
		State:    domain.StateRouting,
		Results:  []domain.SearchResult{},
		Outcomes: []domain.DomainOutcome{},
	}
	log := c.logger.With("retrieval", ret.ID)

	ctx, span := observability.StartRetrievalSpan(ctx, ret.ID, matchCount)
	defer span.End()

	vector := req.Vector
	if len(vector) == 0 {
		if c.embedder == nil {
			return nil, errors.New("request has no query vector and no embedder is configured")
		}
		vecs, err := c.embedder.Embed(ctx, []string{req.Query})
		if err != nil {
			observability.RecordError(span, err)
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
		}
		vector = vecs[0]
	}

	// ROUTING
	if len(req.Domains) > 0 {
		ret.Route, err = c.router.Force(req.Domains)
		if err != nil {
			return nil, err
		}
	} else {
		ret.Route = c.router.Route(ctx, req.Query)
	}
	observability.RecordRoute(span, domainNames(ret.Route.Domains), ret.Route.Broadcast, ret.Route.Reason)
	log.Debug("routing done", "domains", ret.Route.Domains, "broadcast", ret.Route.Broadcast, "reason", ret.Route.Reason)

	// SEARCHING
	ret.State = domain.StateSearching
	c.warnOnMixedModels(log, ret.Route.Domains)
	searches := c.search(ctx, log, ret.Route.Domains, vector, matchCount, req.Filter)

	var fatal error
	for _, s := range searches {
		ret.Outcomes = append(ret.Outcomes, s.outcome)
		if s.outcome.Status != domain.OutcomeOK {
			ret.Partial = true
		}
		if s.fatalErr != nil && fatal == nil {
			fatal = s.fatalErr
		}
	}
	if fatal == nil && ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		fatal = ctx.Err()
	}
	if fatal != nil {
		ret.State = domain.StateFailed
		ret.Partial = true
		log.Error("retrieval failed", "error", fatal)
		observability.RecordError(span, fatal)
		observability.RecordRetrieval(span, string(ret.State), 0, true)
		return ret, fmt.Errorf("%w: %w", domain.ErrRetrievalFailed, fatal)
	}

	// MERGING
	ret.State = domain.StateMerging
	ret.Results = c.merge(searches, matchCount)

	ret.State = domain.StateDone
	if ret.Partial {
		log.Warn("partial result", "outcomes", ret.Outcomes)
	}
	log.Debug("retrieval done", "results", len(ret.Results), "partial", ret.Partial)
	observability.RecordRetrieval(span, string(ret.State), len(ret.Results), ret.Partial)
	return ret, nil
}

// search fans the query out to every domain and waits for all of them or
// the deadline, whichever comes first. Domains still running at the
// deadline are reported as timed out and their late results are dropped.
func (c *Coordinator) search(
	ctx context.Context,
	log *slog.Logger,
	domains []domain.Domain,
	vector []float32,
	matchCount int,
	filter *domain.Filter,
) []*domainSearch {
	searchCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(searchCtx)
	if c.opts.MaxConcurrency > 0 {
		g.SetLimit(c.opts.MaxConcurrency)
	}

	var mu sync.Mutex
	closed := false
	searches := make([]*domainSearch, len(domains))
	for i, d := range domains {
		k := matchCount
		if n := c.opts.DomainMatchCount[d]; n > k {
			k = n
		}
		searches[i] = &domainSearch{domain: d, k: k}
	}

	finish := func(s *domainSearch, results []domain.SearchResult, outcome domain.DomainOutcome, fatal error) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		s.done = true
		s.results = results
		s.outcome = outcome
		s.fatalErr = fatal
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range searches {
			s := s
			g.Go(func() error {
				results, outcome, fatal := c.searchDomain(gctx, log, s.domain, vector, s.k, filter)
				finish(s, results, outcome, fatal)
				return fatal
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-searchCtx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	closed = true
	for _, s := range searches {
		if !s.done {
			s.outcome = domain.DomainOutcome{
				Domain: s.domain,
				Status: domain.OutcomeTimeout,
				Error:  domain.ErrSearchTimeout.Error(),
			}
			log.Warn("domain search timed out", "domain", s.domain)
		}
	}
	return searches
}

// searchDomain searches one domain and classifies how it ended. Only store
// connectivity and constraint failures come back as fatal.
func (c *Coordinator) searchDomain(
	ctx context.Context,
	log *slog.Logger,
	d domain.Domain,
	vector []float32,
	k int,
	filter *domain.Filter,
) ([]domain.SearchResult, domain.DomainOutcome, error) {
	ctx, span := observability.StartSearchSpan(ctx, d.String(), k)
	defer span.End()

	start := time.Now()
	outcome := domain.DomainOutcome{Domain: d}

	store, ok := c.stores[d]
	if !ok {
		outcome.Status = domain.OutcomeFailed
		outcome.Error = fmt.Sprintf("%v: no store configured for %s", domain.ErrUnknownDomain, d)
		observability.RecordSearchResult(span, string(outcome.Status), 0)
		return nil, outcome, nil
	}

	results, err := Search(ctx, store, vector, k, filter)
	outcome.Duration = time.Since(start)

	var fatal error
	switch {
	case err == nil:
		outcome.Status = domain.OutcomeOK
		outcome.Results = len(results)
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrConstraintViolation):
		outcome.Status = domain.OutcomeFailed
		fatal = err
	case errors.Is(err, domain.ErrDimensionMismatch):
		outcome.Status = domain.OutcomeDimensionMismatch
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrSearchTimeout):
		outcome.Status = domain.OutcomeTimeout
	default:
		outcome.Status = domain.OutcomeFailed
	}
	if err != nil {
		outcome.Error = err.Error()
		results = nil
		observability.RecordError(span, err)
		log.Warn("domain search failed", "domain", d, "status", outcome.Status, "error", err)
	}
	observability.RecordSearchResult(span, string(outcome.Status), outcome.Results)
	return results, outcome, fatal
}

// merge combines the successful domain lists into the final ranking.
func (c *Coordinator) merge(searches []*domainSearch, matchCount int) []domain.SearchResult {
	var lists [][]domain.SearchResult
	for _, s := range searches {
		if s.outcome.Status == domain.OutcomeOK {
			lists = append(lists, s.results)
		}
	}
	switch len(lists) {
	case 0:
		return []domain.SearchResult{}
	case 1:
		if len(lists[0]) > matchCount {
			return lists[0][:matchCount]
		}
		return lists[0]
	}

	type key struct {
		d  domain.Domain
		id int64
	}
	seen := make(map[key]int)
	merged := make([]domain.SearchResult, 0, matchCount*len(lists))
	for _, list := range lists {
		if c.opts.Normalization == NormalizeMinMax {
			list = minMax(list)
		}
		for _, r := range list {
			k := key{r.Domain, r.Chunk.ID}
			if i, dup := seen[k]; dup {
				if r.Similarity > merged[i].Similarity {
					merged[i] = r
				}
				continue
			}
			seen[k] = len(merged)
			merged = append(merged, r)
		}
	}

	domain.SortResults(merged)
	if len(merged) > matchCount {
		merged = merged[:matchCount]
	}
	return merged
}

// minMax rescales one domain's similarities to [0, 1]. A list whose
// scores are all equal maps to 1.
func minMax(list []domain.SearchResult) []domain.SearchResult {
	if len(list) == 0 {
		return list
	}
	lo, hi := list[0].Similarity, list[0].Similarity
	for _, r := range list[1:] {
		lo = min(lo, r.Similarity)
		hi = max(hi, r.Similarity)
	}
	out := make([]domain.SearchResult, len(list))
	for i, r := range list {
		if hi == lo {
			r.Similarity = 1
		} else {
			r.Similarity = (r.Similarity - lo) / (hi - lo)
		}
		out[i] = r
	}
	return out
}

func (c *Coordinator) warnOnMixedModels(log *slog.Logger, domains []domain.Domain) {
	if c.opts.Normalization != NormalizeNone || len(domains) < 2 {
		return
	}
	var first string
	for _, d := range domains {
		m := c.opts.EmbeddingModels[d]
		if m == "" {
			continue
		}
		if first == "" {
			first = m
			continue
		}
		if m != first {
			log.Warn("merging similarities from different embedding models without normalization",
				"models", c.opts.EmbeddingModels)
			return
		}
	}
}

func domainNames(ds []domain.Domain) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}
