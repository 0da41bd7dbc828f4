package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"campusrag/config"
	"campusrag/internal/adapter/cache"
	"campusrag/internal/adapter/embedding"
	"campusrag/internal/adapter/llm"
	"campusrag/internal/adapter/memstore"
	"campusrag/internal/adapter/pgstore"
	"campusrag/internal/adapter/qdrantstore"
	"campusrag/internal/adapter/router"
	"campusrag/internal/adapter/store"
	"campusrag/internal/domain"
	"campusrag/internal/index"
	"campusrag/internal/port"
	"campusrag/internal/usecase"
)

// backend holds one open store per configured domain.
type backend struct {
	stores map[domain.Domain]port.ChunkStore
	// raw are the stores before the query cache wraps them.
	raw    map[domain.Domain]port.ChunkStore
	models map[domain.Domain]string
	bolt   *store.BoltStore
	close  func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// store returns the store of d or ErrUnknownDomain when d is not configured.
func (b *backend) store(d domain.Domain) (port.ChunkStore, error) {
	s, ok := b.stores[d]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", domain.ErrUnknownDomain, d)
	}
	return s, nil
}

// openOptions controls how openBackend treats missing or stale schemas.
type openOptions struct {
	// prepare creates tables, collections and buckets and records the
	// schema version.
	prepare bool
	// rebuild clears bolt collections whose embedding model or dimension
	// changed instead of refusing to open them.
	rebuild bool
}

// embeddingModel returns the model name recorded for a domain's vectors.
func embeddingModel(cfg *config.Config, dc config.DomainConfig) string {
	if dc.EmbeddingModel != "" {
		return dc.EmbeddingModel
	}
	return cfg.Embedding.Model
}

func openBackend(ctx context.Context, cfg *config.Config, rootDir string, opts openOptions) (*backend, error) {
	var (
		b   *backend
		err error
	)
	switch cfg.Store.Backend {
	case "memory":
		b, err = openMemory(cfg)
	case "bolt":
		b, err = openBolt(cfg, rootDir, opts)
	case "postgres":
		b, err = openPostgres(ctx, cfg, opts)
	case "qdrant":
		b, err = openQdrant(ctx, cfg, opts)
	default:
		err = fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
	if err != nil {
		return nil, err
	}

	b.stores = b.raw
	if cfg.Search.CacheSize > 0 {
		qc := cache.NewQueryCache(cfg.Search.CacheSize, cfg.Search.CacheTTL)
		b.stores = make(map[domain.Domain]port.ChunkStore, len(b.raw))
		for d, s := range b.raw {
			b.stores[d] = cache.NewCachedStore(s, qc)
		}
	}
	return b, nil
}

func newBackend() *backend {
	return &backend{
		raw:    make(map[domain.Domain]port.ChunkStore),
		models: make(map[domain.Domain]string),
	}
}

func openMemory(cfg *config.Config) (*backend, error) {
	b := newBackend()
	opts := index.Options{Lists: cfg.Store.Lists, Probes: cfg.Store.Probes}
	for _, dc := range cfg.Domains {
		d, err := dc.Domain()
		if err != nil {
			return nil, err
		}
		b.raw[d] = memstore.NewMemoryStore(d, cfg.Store.Dimension, opts)
		b.models[d] = embeddingModel(cfg, dc)
	}
	slog.Warn("memory backend selected, content is lost when the process exits")
	return b, nil
}

func openBolt(cfg *config.Config, rootDir string, opts openOptions) (*backend, error) {
	path := cfg.StorePath(rootDir)
	if !opts.prepare {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("no store found at %s. Run 'campusrag init' first", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	st, err := store.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	b := newBackend()
	b.bolt = st
	b.close = st.Close

	ivf := index.Options{Lists: cfg.Store.Lists, Probes: cfg.Store.Probes}
	for _, dc := range cfg.Domains {
		d, err := dc.Domain()
		if err != nil {
			st.Close()
			return nil, err
		}
		model := embeddingModel(cfg, dc)
		if err := prepareBolt(st, d, cfg.Store.Dimension, model, opts); err != nil {
			st.Close()
			return nil, err
		}
		c, err := st.Collection(d, cfg.Store.Dimension, ivf)
		if err != nil {
			st.Close()
			return nil, err
		}
		b.raw[d] = c
		b.models[d] = model
	}
	return b, nil
}

func prepareBolt(st *store.BoltStore, d domain.Domain, dimension int, model string, opts openOptions) error {
	check, err := st.CheckMigration(d, dimension, model)
	if err != nil {
		return err
	}
	if check.NeedsRebuild {
		if !opts.rebuild {
			return fmt.Errorf("%s store needs a rebuild (%s). Run 'campusrag ingest --rebuild'", d, check.Reason)
		}
		slog.Info("clearing store", "domain", d, "reason", check.Reason)
		if err := st.Clear(d); err != nil {
			return fmt.Errorf("failed to clear %s store: %w", d, err)
		}
		return st.Migrate(d, dimension, model)
	}
	if check.NeedsMigration {
		slog.Debug("migrating store", "domain", d, "reason", check.Reason)
		return st.Migrate(d, dimension, model)
	}
	return nil
}

func openPostgres(ctx context.Context, cfg *config.Config, opts openOptions) (*backend, error) {
	dsn := os.Getenv(cfg.Store.Postgres.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN not found. Set %s environment variable", cfg.Store.Postgres.DSNEnv)
	}
	db, err := pgstore.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}

	b := newBackend()
	b.close = db.Close
	for _, dc := range cfg.Domains {
		d, err := dc.Domain()
		if err != nil {
			db.Close()
			return nil, err
		}
		table := pgstore.Table{
			Name:      dc.Store,
			Dimension: cfg.Store.Dimension,
			Lists:     cfg.Store.Lists,
			Probes:    cfg.Store.Probes,
		}
		if opts.prepare {
			if err := db.EnsureSchema(ctx, table); err != nil {
				db.Close()
				return nil, err
			}
		}
		s, err := db.Store(d, table)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.raw[d] = s
		b.models[d] = embeddingModel(cfg, dc)
	}
	return b, nil
}

func openQdrant(ctx context.Context, cfg *config.Config, opts openOptions) (*backend, error) {
	q := cfg.Store.Qdrant
	var apiKey string
	if q.APIKeyEnv != "" {
		apiKey = os.Getenv(q.APIKeyEnv)
	}
	client, err := qdrantstore.Dial(q.Host, q.Port, apiKey)
	if err != nil {
		return nil, err
	}

	b := newBackend()
	b.close = client.Close
	for _, dc := range cfg.Domains {
		d, err := dc.Domain()
		if err != nil {
			client.Close()
			return nil, err
		}
		if opts.prepare {
			if err := client.EnsureCollection(ctx, dc.Store, cfg.Store.Dimension); err != nil {
				client.Close()
				return nil, err
			}
		}
		b.raw[d] = client.Store(d, dc.Store, cfg.Store.Dimension)
		b.models[d] = embeddingModel(cfg, dc)
	}
	return b, nil
}

// newEmbedder builds the query and ingestion embedder. The store dimension
// is requested from providers that can shorten their vectors.
func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	ec := cfg.Embedding
	opts := embedding.Options{
		Model:             ec.Model,
		BaseURL:           ec.BaseURL,
		APIKeyEnv:         ec.APIKeyEnv,
		Dimension:         cfg.Store.Dimension,
		RequestsPerSecond: ec.RequestsPerSecond,
		Timeout:           ec.Timeout,
	}
	switch ec.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(opts)
	case "ollama":
		return embedding.NewOllamaEmbedder(opts)
	case "compatible":
		return embedding.NewOpenAICompatibleEmbedder(opts)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Store.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", ec.Provider)
	}
}

// newClassifier returns nil for the "none" classifier, which makes the
// router broadcast every query.
func newClassifier(cfg *config.Config) (port.Classifier, error) {
	switch cfg.Router.Classifier {
	case "keyword":
		return router.NewKeywordClassifier(domainKeywords(cfg)), nil
	case "llm":
		client, err := llm.New(llm.Options{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			APIKeyEnv:   cfg.LLM.APIKeyEnv,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create classifier: %w", err)
		}
		return router.NewLLMClassifier(client), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown classifier: %s", cfg.Router.Classifier)
	}
}

// domainKeywords merges configured keywords over the built-in lists. A
// domain without configured keywords keeps its defaults.
func domainKeywords(cfg *config.Config) map[domain.Domain][]string {
	keywords := router.DefaultKeywords()
	for _, dc := range cfg.Domains {
		if len(dc.Keywords) == 0 {
			continue
		}
		d, err := dc.Domain()
		if err != nil {
			continue
		}
		keywords[d] = dc.Keywords
	}
	return keywords
}

func coordinatorOptions(cfg *config.Config, b *backend) usecase.CoordinatorOptions {
	depth := make(map[domain.Domain]int, len(cfg.Domains))
	for _, dc := range cfg.Domains {
		d, err := dc.Domain()
		if err != nil {
			continue
		}
		if dc.MatchCount > 0 {
			depth[d] = dc.MatchCount
		} else {
			depth[d] = cfg.Search.MatchCount
		}
	}
	return usecase.CoordinatorOptions{
		Timeout:          cfg.Coordinator.Timeout,
		MaxConcurrency:   cfg.Coordinator.MaxConcurrency,
		MatchCount:       cfg.Coordinator.MatchCount,
		DomainMatchCount: depth,
		Normalization:    cfg.Coordinator.Normalization,
		EmbeddingModels:  b.models,
	}
}

// configuredDomains lists the configured domains in priority order.
func configuredDomains(cfg *config.Config) []domain.Domain {
	var out []domain.Domain
	for _, d := range domain.AllDomains {
		if _, ok := cfg.DomainConfig(d); ok {
			out = append(out, d)
		}
	}
	return out
}

// newCoordinator wires the router, stores and embedder of one CLI run.
func newCoordinator(cfg *config.Config, b *backend, logger *slog.Logger) (*usecase.Coordinator, error) {
	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	if embedder.Dimension() != cfg.Store.Dimension {
		return nil, fmt.Errorf("embedder %s produces %d-dimensional vectors, store expects %d",
			embedder.ModelName(), embedder.Dimension(), cfg.Store.Dimension)
	}
	rt := usecase.NewRouter(classifier, cfg.Router.ConfidenceThreshold, configuredDomains(cfg), logger)
	return usecase.NewCoordinator(rt, b.stores, embedder, coordinatorOptions(cfg, b), logger), nil
}
