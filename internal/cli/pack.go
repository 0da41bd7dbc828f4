package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"campusrag/internal/adapter/analyzer"
	"campusrag/internal/usecase"
)

var (
	packSearch searchFlags
	packBudget int
	packOutput string
	packFormat string
	packExpand int
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack retrieved context for LLM consumption",
	Long: `Retrieve the routed domains and pack the merged chunks into a context
that fits within a token budget, with a citation per snippet. Adjacent chunks
of the same page are joined.

Examples:
  campusrag pack -q "master admission requirements"
  campusrag pack -q "Stadtführung Dom" -b 2000 -o context.json --format json
  campusrag pack -q "Prüfungsanmeldung" --format context --expand 1`,
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
	packSearch.register(packCmd)
	packCmd.Flags().IntVarP(&packBudget, "budget", "b", 0, "token budget (default from config)")
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "output file (default: stdout)")
	packCmd.Flags().StringVar(&packFormat, "format", "", "json or context (default from config)")
	packCmd.Flags().IntVar(&packExpand, "expand", 0, "add up to this many neighbouring chunks on each side of a result")
}

func runPack(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	req, err := packSearch.request()
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

	budget := cfg.Pack.TokenBudget
	if packBudget > 0 {
		budget = packBudget
	}
	format := cfg.Pack.Output
	if packFormat != "" {
		format = packFormat
	}

	ret, err := coord.Retrieve(ctx, req)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if packExpand > 0 {
		ret, err = usecase.NewContextExpander(b.stores, packExpand).Expand(ctx, ret)
		if err != nil {
			return fmt.Errorf("context expansion failed: %w", err)
		}
	}

	packUC := usecase.NewPackUseCase(analyzer.NewTokenizer(true))
	packed := packUC.Pack(ret, budget)

	var output []byte
	switch format {
	case "context", "text":
		output = []byte(usecase.FormatContext(packed))
	case "json":
		output, err = json.MarshalIndent(packed, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
	default:
		return fmt.Errorf("unknown pack format: %s", format)
	}

	if packOutput != "" {
		if err := os.WriteFile(packOutput, output, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Printf("Context packed to: %s\n", packOutput)
		fmt.Printf("  Snippets: %d\n", len(packed.Snippets))
		fmt.Printf("  Tokens:   %d / %d\n", packed.UsedTokens, packed.BudgetTokens)
		if packed.Partial {
			fmt.Println("  Partial:  yes")
		}
	} else {
		fmt.Println(string(output))
	}

	return nil
}
