package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"campusrag/internal/domain"
)

// Config holds all configuration for campusrag.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Domains     []DomainConfig    `yaml:"domains"`
	Search      SearchConfig      `yaml:"search"`
	Router      RouterConfig      `yaml:"router"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	Pack        PackConfig        `yaml:"pack"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// StoreConfig selects the embedding store backend shared by all domains.
type StoreConfig struct {
	Backend   string         `yaml:"backend"` // "memory", "bolt", "postgres", "qdrant"
	Dimension int            `yaml:"dimension"`
	Lists     int            `yaml:"lists"`  // IVF partition count, 0 = exact search
	Probes    int            `yaml:"probes"` // partitions scanned per query
	Path      string         `yaml:"path"`   // bolt file, relative to the project dir
	Postgres  PostgresConfig `yaml:"postgres"`
	Qdrant    QdrantConfig   `yaml:"qdrant"`
}

type PostgresConfig struct {
	DSNEnv string `yaml:"dsn_env"` // Environment variable holding the connection string
}

type QdrantConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// DomainConfig describes one domain store.
type DomainConfig struct {
	ID             string   `yaml:"id"`
	Store          string   `yaml:"store"`  // table, bucket or collection name
	Source         string   `yaml:"source"` // source tag written by ingestion
	EmbeddingModel string   `yaml:"embedding_model"`
	MatchCount     int      `yaml:"match_count"` // search depth, 0 = search.match_count
	Keywords       []string `yaml:"keywords,omitempty"`
}

// Domain resolves the configured id.
func (d DomainConfig) Domain() (domain.Domain, error) {
	return domain.ParseDomain(d.ID)
}

// SearchConfig holds similarity search configuration.
type SearchConfig struct {
	MatchCount int           `yaml:"match_count"`
	CacheSize  int           `yaml:"cache_size"` // 0 disables the query cache
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// RouterConfig holds domain routing configuration.
type RouterConfig struct {
	Classifier          string  `yaml:"classifier"` // "keyword", "llm", "none"
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// CoordinatorConfig holds retrieval orchestration configuration.
type CoordinatorConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MatchCount     int           `yaml:"match_count"`   // global cap on merged results
	Normalization  string        `yaml:"normalization"` // "none", "minmax"
}

// EmbeddingConfig holds query embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // "openai", "ollama", "compatible", "mock"
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"` // Environment variable for API key
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// LLMConfig holds the chat model used by the LLM classifier.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "openai", "deepseek", "local"
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PackConfig holds context packing configuration.
type PackConfig struct {
	TokenBudget int    `yaml:"token_budget"`
	Output      string `yaml:"output"` // "text", "json", "context"
}

// IngestConfig holds the globs selecting chunk record files.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC endpoint, empty disables tracing
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:   "bolt",
			Dimension: 1536,
			Lists:     100,
			Probes:    10,
			Path:      filepath.Join(DirName, "chunks.db"),
			Postgres:  PostgresConfig{DSNEnv: "DATABASE_URL"},
			Qdrant:    QdrantConfig{Host: "localhost", Port: 6334, APIKeyEnv: "QDRANT_API_KEY"},
		},
		Domains: DefaultDomains(),
		Search: SearchConfig{
			MatchCount: 3,
			CacheSize:  256,
			CacheTTL:   5 * time.Minute,
		},
		Router: RouterConfig{
			Classifier:          "keyword",
			ConfidenceThreshold: 0.5,
		},
		Coordinator: CoordinatorConfig{
			Timeout:        5 * time.Second,
			MaxConcurrency: 3,
			MatchCount:     7,
			Normalization:  "none",
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestsPerSecond: 5,
			Timeout:           60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   30 * time.Second,
		},
		Pack: PackConfig{
			TokenBudget: 4000,
			Output:      "text",
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.jsonl", "**/*.ndjson"},
			Excludes: []string{"**/.git/**", "**/tmp/**"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "campusrag",
			Environment: "development",
			SampleRate:  1.0,
		},
	}
}

// DefaultDomains returns the university, faculty and city stores with
// their original table names and source tags.
func DefaultDomains() []DomainConfig {
	return []DomainConfig{
		{ID: "faculty", Store: "fin_pages", Source: "fin_docs", EmbeddingModel: "text-embedding-3-small", MatchCount: 7},
		{ID: "university", Store: "ovgu_pages", Source: "ovgu_docs", EmbeddingModel: "text-embedding-3-small"},
		{ID: "city", Store: "magdeburg_pages", Source: "magdeburg_general_docs", EmbeddingModel: "text-embedding-3-small", MatchCount: 7},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FileName is the project-level config file.
const FileName = "campusrag.yaml"

// DirName is the project-level state directory.
const DirName = ".campusrag"

// LoadFromDir loads configuration from a directory (looks for campusrag.yaml,
// then .campusrag/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, DirName, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case "memory", "bolt", "postgres", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("store.dimension: must be > 0, got %d", c.Store.Dimension))
	}
	if c.Store.Lists < 0 || c.Store.Probes < 0 {
		errs = append(errs, errors.New("store.lists and store.probes must be >= 0"))
	}
	if c.Store.Backend == "bolt" && strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path: required for the bolt backend"))
	}

	if len(c.Domains) == 0 {
		errs = append(errs, errors.New("domains: at least one domain is required"))
	}
	seen := make(map[domain.Domain]bool)
	stores := make(map[string]bool)
	for i, dc := range c.Domains {
		d, err := dc.Domain()
		if err != nil {
			errs = append(errs, fmt.Errorf("domains[%d]: %w", i, err))
			continue
		}
		if seen[d] {
			errs = append(errs, fmt.Errorf("domains[%d]: duplicate domain %s", i, d))
		}
		seen[d] = true
		if dc.Store == "" {
			errs = append(errs, fmt.Errorf("domains[%d]: store name is required", i))
		} else if stores[dc.Store] {
			errs = append(errs, fmt.Errorf("domains[%d]: store %q used twice", i, dc.Store))
		}
		stores[dc.Store] = true
		if dc.MatchCount < 0 {
			errs = append(errs, fmt.Errorf("domains[%d]: match_count must be >= 0", i))
		}
	}

	if c.Search.MatchCount < 1 {
		errs = append(errs, fmt.Errorf("search.match_count: must be >= 1, got %d", c.Search.MatchCount))
	}
	if c.Search.CacheSize < 0 {
		errs = append(errs, errors.New("search.cache_size: must be >= 0"))
	}

	switch c.Router.Classifier {
	case "keyword", "llm", "none":
	default:
		errs = append(errs, fmt.Errorf("router.classifier: unknown classifier %q", c.Router.Classifier))
	}
	if t := c.Router.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("router.confidence_threshold: must be within [0, 1], got %g", t))
	}

	if c.Coordinator.Timeout < 0 {
		errs = append(errs, errors.New("coordinator.timeout: must be >= 0"))
	}
	if c.Coordinator.MaxConcurrency < 0 {
		errs = append(errs, errors.New("coordinator.max_concurrency: must be >= 0"))
	}
	if c.Coordinator.MatchCount < 0 {
		errs = append(errs, errors.New("coordinator.match_count: must be >= 0"))
	}
	switch c.Coordinator.Normalization {
	case "", "none", "minmax":
	default:
		errs = append(errs, fmt.Errorf("coordinator.normalization: unknown strategy %q", c.Coordinator.Normalization))
	}

	switch c.Embedding.Provider {
	case "openai", "ollama", "compatible", "mock":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// DomainConfig returns the configuration of d.
func (c *Config) DomainConfig(d domain.Domain) (DomainConfig, bool) {
	for _, dc := range c.Domains {
		if parsed, err := dc.Domain(); err == nil && parsed == d {
			return dc, true
		}
	}
	return DomainConfig{}, false
}

// StorePath returns the bolt file path resolved against dir.
func (c *Config) StorePath(dir string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(dir, c.Store.Path)
}

// EnsureDir ensures the .campusrag directory exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, DirName), 0755)
}
