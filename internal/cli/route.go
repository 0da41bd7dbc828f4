package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"campusrag/internal/usecase"
)

var (
	routeQuery string
	routeJSON  bool
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Show which domains a question is routed to",
	Long: `Classify a question and print the routing decision with the confidence
of every domain. No store is opened.

Examples:
  campusrag route -q "Welche Module hat der Master Informatik?"
  campusrag route -q "opening hours" --json`,
	RunE: runRoute,
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.Flags().StringVarP(&routeQuery, "query", "q", "", "question to route (required)")
	routeCmd.Flags().BoolVar(&routeJSON, "json", false, "output as JSON")
	routeCmd.MarkFlagRequired("query")
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	rt := usecase.NewRouter(classifier, cfg.Router.ConfidenceThreshold, configuredDomains(cfg), GetLogger())
	decision := rt.Route(cmd.Context(), routeQuery)

	if routeJSON {
		output, _ := json.MarshalIndent(decision, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Domains:   %s\n", joinDomains(decision.Domains))
	fmt.Printf("Broadcast: %v\n", decision.Broadcast)
	fmt.Printf("Reason:    %s\n", decision.Reason)
	if len(decision.Scores) > 0 {
		fmt.Println("Scores:")
		for _, s := range decision.Scores {
			fmt.Printf("  %-10s %.2f\n", s.Domain, s.Confidence)
		}
	}
	return nil
}
