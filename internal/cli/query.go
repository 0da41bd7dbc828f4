package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"campusrag/internal/adapter/analyzer"
	"campusrag/internal/domain"
	"campusrag/internal/usecase"
)

// searchFlags are shared by the commands that run a coordinated retrieval.
type searchFlags struct {
	query    string
	domains  []string
	topK     int
	source   string
	pageFrom int
	pageTo   int
}

func (f *searchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "search query (required)")
	cmd.Flags().StringSliceVar(&f.domains, "domain", nil, "search only these domains, skipping the router (repeatable)")
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "number of merged results, also the minimum depth per domain (default from config)")
	cmd.Flags().StringVar(&f.source, "source", "", "only chunks whose metadata source equals this value")
	cmd.Flags().IntVar(&f.pageFrom, "page-from", 0, "only chunks from this page on")
	cmd.Flags().IntVar(&f.pageTo, "page-to", 0, "only chunks up to this page")
	cmd.MarkFlagRequired("query")
}

func (f *searchFlags) request() (usecase.Request, error) {
	domains, err := parseDomains(f.domains)
	if err != nil {
		return usecase.Request{}, err
	}
	return usecase.Request{
		Query:      f.query,
		MatchCount: f.topK,
		Filter:     buildFilter(f.source, f.pageFrom, f.pageTo),
		Domains:    domains,
	}, nil
}

// parseDomains resolves domain ids and aliases, accepting comma separated
// values inside one flag.
func parseDomains(values []string) ([]domain.Domain, error) {
	var out []domain.Domain
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			d, err := domain.ParseDomain(part)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// buildFilter returns nil when no condition is set. A zero page bound is
// open.
func buildFilter(source string, pageFrom, pageTo int) *domain.Filter {
	f := &domain.Filter{}
	if source != "" {
		f.Equals = map[string]any{domain.MetaSource: source}
	}
	if pageFrom > 0 || pageTo > 0 {
		r := domain.Range{Key: domain.MetaPage}
		if pageFrom > 0 {
			lo := float64(pageFrom)
			r.Min = &lo
		}
		if pageTo > 0 {
			hi := float64(pageTo)
			r.Max = &hi
		}
		f.Ranges = append(f.Ranges, r)
	}
	if f.IsEmpty() {
		return nil
	}
	return f
}

var (
	querySearch  searchFlags
	queryJSON    bool
	queryContext bool
	queryBudget  int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the routed domain stores",
	Long: `Route a question to the domains it concerns, search their stores
concurrently and print the merged, cited results.

Examples:
  campusrag query -q "Wann öffnet die Bibliothek?"
  campusrag query -q "exam dates" --domain fin --domain ovgu -k 5
  campusrag query -q "Prüfungsordnung" --source ovgu_docs --page-from 3 --json
  campusrag query -q "Mensa Speiseplan" --context -b 1500`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	querySearch.register(queryCmd)
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryContext, "context", false, "print the packed LLM context instead of the result list")
	queryCmd.Flags().IntVarP(&queryBudget, "budget", "b", 0, "token budget for --context (default from config)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	req, err := querySearch.request()
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg, GetRootDir(), openOptions{})
	if err != nil {
		return err
	}
	defer b.Close()

	coord, err := newCoordinator(cfg, b, GetLogger())
	if err != nil {
		return err
	}

	ret, err := coord.Retrieve(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryContext {
		budget := cfg.Pack.TokenBudget
		if queryBudget > 0 {
			budget = queryBudget
		}
		packed := usecase.NewPackUseCase(analyzer.NewTokenizer(true)).Pack(ret, budget)
		fmt.Println(usecase.FormatContext(packed))
		return nil
	}

	if queryJSON {
		output, _ := json.MarshalIndent(ret, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	printRetrieval(ret)
	return nil
}

func printRetrieval(ret *domain.Retrieval) {
	fmt.Printf("Route: %s (%s)\n", joinDomains(ret.Route.Domains), ret.Route.Reason)
	for _, o := range ret.Outcomes {
		if o.Status != domain.OutcomeOK {
			fmt.Printf("  %s: %s %s\n", o.Domain, o.Status, o.Error)
		}
	}
	if ret.Partial {
		fmt.Println("Results are partial: not every domain answered.")
	}
	fmt.Println()

	if len(ret.Results) == 0 {
		fmt.Println("No results found.")
		return
	}
	fmt.Printf("Found %d results for: %s\n\n", len(ret.Results), ret.Query)
	for i, r := range ret.Results {
		c := r.Citation()
		loc := fmt.Sprintf("%s#%d", c.URL, c.ChunkNumber)
		if c.Page > 0 {
			loc = fmt.Sprintf("%s (page %d)", loc, c.Page)
		}
		fmt.Printf("--- [%d] %s %s (score: %.2f) ---\n", i+1, r.Domain, loc, r.Similarity)
		if c.Title != "" {
			fmt.Println(c.Title)
		}
		fmt.Println(truncate(r.Chunk.Content, 500))
		fmt.Println()
	}
}

func joinDomains(ds []domain.Domain) string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}

// truncate cuts text to at most n bytes without splitting a rune.
func truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n] + "..."
}
