package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show chunk counts per domain store",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

type domainStats struct {
	Domain         string `json:"domain"`
	Store          string `json:"store"`
	Chunks         int    `json:"chunks"`
	EmbeddingModel string `json:"embedding_model"`
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	b, err := openBackend(ctx, cfg, GetRootDir(), openOptions{})
	if err != nil {
		return err
	}
	defer b.Close()

	var stats []domainStats
	for _, d := range configuredDomains(cfg) {
		st, err := b.store(d)
		if err != nil {
			return err
		}
		n, err := st.Count(ctx)
		if err != nil {
			return fmt.Errorf("count %s: %w", d, err)
		}
		dc, _ := cfg.DomainConfig(d)
		stats = append(stats, domainStats{
			Domain:         string(d),
			Store:          dc.Store,
			Chunks:         n,
			EmbeddingModel: b.models[d],
		})
	}

	if statsJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Backend: %s (dimension %d)\n\n", cfg.Store.Backend, cfg.Store.Dimension)
	total := 0
	for _, s := range stats {
		fmt.Printf("  %-10s %-24s %6d chunks  %s\n", s.Domain, s.Store, s.Chunks, s.EmbeddingModel)
		total += s.Chunks
	}
	fmt.Printf("\n  Total: %d chunks\n", total)
	return nil
}
