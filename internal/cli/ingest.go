package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"campusrag/internal/adapter/fs"
	"campusrag/internal/domain"
	"campusrag/internal/port"
	"campusrag/internal/usecase"
)

var (
	ingestDomain  string
	ingestNoEmbed bool
	ingestRebuild bool
	ingestQuiet   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Load crawled chunk exports into a domain store",
	Long: `Ingest reads JSON Lines chunk exports (one record per line with url,
chunk_number, title, summary, content, metadata and embedding) and upserts
them into the store of one domain. Records without an embedding are embedded
with the configured provider unless --no-embed is set.

Examples:
  campusrag ingest --domain fin ./crawl/fin
  campusrag ingest --domain city ./crawl/magdeburg.jsonl --no-embed
  campusrag ingest --domain ovgu ./crawl/ovgu --rebuild`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestDomain, "domain", "", "target domain: university|ovgu, faculty|fin, city|magdeburg (required)")
	ingestCmd.Flags().BoolVar(&ingestNoEmbed, "no-embed", false, "reject records without an embedding instead of embedding them")
	ingestCmd.Flags().BoolVar(&ingestRebuild, "rebuild", false, "clear stores whose embedding model or dimension changed")
	ingestCmd.Flags().BoolVar(&ingestQuiet, "quiet", false, "hide the progress bar")
	ingestCmd.MarkFlagRequired("domain")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := GetLogger()

	d, err := domain.ParseDomain(ingestDomain)
	if err != nil {
		return err
	}

	path := GetRootDir()
	if len(args) > 0 {
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	b, err := openBackend(ctx, cfg, GetRootDir(), openOptions{prepare: true, rebuild: ingestRebuild})
	if err != nil {
		return err
	}
	defer b.Close()

	st, ok := b.raw[d]
	if !ok {
		return fmt.Errorf("%w: %s is not configured", domain.ErrUnknownDomain, d)
	}

	var embedder port.Embedder
	if !ingestNoEmbed {
		embedder, err = newEmbedder(cfg)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
	ingestUC := usecase.NewIngestUseCase(st, walker, embedder, logger.With("domain", d))

	fmt.Printf("Scanning %s...\n", path)

	var progress func(done, total int)
	if !ingestQuiet {
		progress = newProgress("Ingesting")
	}

	start := time.Now()
	result, err := ingestUC.Ingest(ctx, path, progress)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("\nIngestion complete (%s):\n", formatDuration(time.Since(start)))
	fmt.Printf("  Domain:    %s\n", d)
	fmt.Printf("  Files:     %d\n", result.Files)
	fmt.Printf("  Records:   %d\n", result.Records)
	fmt.Printf("  Upserted:  %d\n", result.Upserted)
	if result.Embedded > 0 {
		fmt.Printf("  Embedded:  %d\n", result.Embedded)
	}
	fmt.Printf("  Rejected:  %d\n", len(result.Rejected))

	if len(result.Rejected) > 0 || len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Rejected {
			fmt.Printf("  - %s\n", e)
		}
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// newProgress returns a progress callback that lazily creates a bar once the
// total is known and shows an ETA in its description.
func newProgress(label string) func(done, total int) {
	var (
		bar       *progressbar.ProgressBar
		mu        sync.Mutex
		startTime time.Time
	)

	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", label)),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(done)

		if done > 0 {
			elapsed := time.Since(startTime)
			rate := float64(done) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", label, formatDuration(eta)))
			}
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
