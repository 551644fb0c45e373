package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/cortex/pkg/memory"
)

var (
	recallLimit   int
	recallSession string
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Search memory by meaning",
	Long: `Search memory by semantic similarity. Falls back to keyword search
automatically when the embedding provider is unavailable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", 5, "maximum results")
	recallCmd.Flags().StringVar(&recallSession, "session", "", "restrict to one session")
	rootCmd.AddCommand(recallCmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	return withManager(func(env *engineEnv) error {
		var results []memory.SearchResult
		var err error
		if recallSession != "" {
			results, err = env.manager.RecallFromSession(cmd.Context(), query, recallLimit, recallSession)
		} else {
			results, err = env.manager.Recall(cmd.Context(), query, recallLimit, nil)
		}
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. [%.3f] %s\n", i+1, r.Score, r.ID)
			fmt.Printf("   %s\n", firstLine(r.Content))
		}
		return nil
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
