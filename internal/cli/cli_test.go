package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrag/config"
	"campusrag/internal/domain"
	"campusrag/internal/logger"
	"campusrag/internal/usecase"
)

func TestParseDomains(t *testing.T) {
	got, err := parseDomains([]string{"fin,ovgu", " magdeburg ", ""})
	require.NoError(t, err)
	assert.Equal(t, []domain.Domain{domain.Faculty, domain.University, domain.City}, got)

	_, err = parseDomains([]string{"berlin"})
	assert.ErrorIs(t, err, domain.ErrUnknownDomain)

	got, err = parseDomains(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter("", 0, 0))

	f := buildFilter("ovgu_docs", 2, 0)
	require.NotNil(t, f)
	assert.Equal(t, "ovgu_docs", f.Equals[domain.MetaSource])
	require.Len(t, f.Ranges, 1)
	assert.Equal(t, 2.0, *f.Ranges[0].Min)
	assert.Nil(t, f.Ranges[0].Max)

	assert.True(t, f.Match(domain.Metadata{"source": "ovgu_docs", "page": 3}))
	assert.False(t, f.Match(domain.Metadata{"source": "ovgu_docs", "page": 1}))
	assert.False(t, f.Match(domain.Metadata{"source": "fin_docs", "page": 3}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "<1s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 30*time.Minute, "2h30m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "kurz", truncate("kurz", 500))

	// Each "ü" is two bytes, so byte 500 falls inside a rune.
	text := "a" + strings.Repeat("ü", 300)
	got := truncate(text, 500)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a"+strings.Repeat("ü", 249)+"...", got)
}

func TestCoordinatorOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Domains[1].EmbeddingModel = ""

	b, err := openBackend(context.Background(), cfg, t.TempDir(), openOptions{})
	require.NoError(t, err)
	defer b.Close()

	opts := coordinatorOptions(cfg, b)
	assert.Equal(t, 7, opts.DomainMatchCount[domain.Faculty])
	assert.Equal(t, cfg.Search.MatchCount, opts.DomainMatchCount[domain.University])
	assert.Equal(t, 7, opts.DomainMatchCount[domain.City])
	assert.Equal(t, cfg.Embedding.Model, opts.EmbeddingModels[domain.University])
	assert.Equal(t, cfg.Coordinator.Timeout, opts.Timeout)
	assert.Len(t, b.stores, 3)
}

func TestDomainKeywordsOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Domains[2].Keywords = []string{"elbe"}

	kw := domainKeywords(cfg)
	assert.Equal(t, []string{"elbe"}, kw[domain.City])
	assert.NotEmpty(t, kw[domain.Faculty])
}

func TestNewClassifierNone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Router.Classifier = "none"

	c, err := newClassifier(cfg)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestOpenBoltRequiresInit(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := openBackend(context.Background(), cfg, t.TempDir(), openOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "campusrag init")
}

func execute(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
}

func TestInitIngestRetrieve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(`
store:
  backend: bolt
  dimension: 16
  lists: 0
search:
  cache_size: 0
embedding:
  provider: mock
  model: mock
logging:
  level: error
`), 0644))

	crawl := filepath.Join(dir, "crawl")
	require.NoError(t, os.MkdirAll(crawl, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(crawl, "fin.jsonl"), []byte(
		`{"url":"https://www.inf.ovgu.de/master","chunk_number":0,"title":"Master","content":"master informatik admission requirements","metadata":{"source":"fin_docs"}}`+"\n"+
			`{"url":"https://www.inf.ovgu.de/master","chunk_number":1,"title":"Master","content":"master informatik modules and courses"}`+"\n"+
			`{"url":"","chunk_number":0,"content":"missing url"}`+"\n",
	), 0644))

	execute(t, "init", "-d", dir)
	execute(t, "ingest", "-d", dir, "--domain", "fin", "--quiet", crawl)

	cfg, err := config.LoadFromDir(dir)
	require.NoError(t, err)
	b, err := openBackend(context.Background(), cfg, dir, openOptions{})
	require.NoError(t, err)
	defer b.Close()

	st, err := b.store(domain.Faculty)
	require.NoError(t, err)
	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	coord, err := newCoordinator(cfg, b, logger.Discard())
	require.NoError(t, err)
	ret, err := coord.Retrieve(context.Background(), usecase.Request{
		Query:   "master admission requirements",
		Domains: []domain.Domain{domain.Faculty},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, ret.State)
	require.NotEmpty(t, ret.Results)
	assert.Equal(t, "https://www.inf.ovgu.de/master", ret.Results[0].Chunk.URL)
	assert.Equal(t, 0, ret.Results[0].Chunk.ChunkNumber)
	assert.Equal(t, domain.Faculty, ret.Results[0].Domain)
}
