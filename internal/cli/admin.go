package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	listLimit  int
	clearYes   bool
	fbHelpful  bool
	fbNotGreat bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest notes",
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a note from both memory tiers",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every note from memory",
	RunE:  runClear,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	RunE:  runStats,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a retention sweep now",
	RunE:  runSweep,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback [id]",
	Short: "Record whether a recalled note was useful",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedback,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 10, "maximum notes")
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "skip confirmation")
	feedbackCmd.Flags().BoolVar(&fbHelpful, "helpful", false, "the note was useful")
	feedbackCmd.Flags().BoolVar(&fbNotGreat, "unhelpful", false, "the note was not useful")

	rootCmd.AddCommand(listCmd, deleteCmd, clearCmd, statsCmd, sweepCmd, feedbackCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withManager(func(env *engineEnv) error {
		notes, err := env.manager.Recent(listLimit)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			fmt.Println("Memory is empty.")
			return nil
		}
		for _, note := range notes {
			fmt.Printf("%s  %s  %s\n",
				note.CreatedAt.Format("2006-01-02 15:04"), note.ID, firstLine(note.Content))
		}
		return nil
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withManager(func(env *engineEnv) error {
		deleted, err := env.manager.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Printf("No note with id %s\n", args[0])
			return nil
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return fmt.Errorf("refusing to clear all memory without --yes")
	}
	return withManager(func(env *engineEnv) error {
		removed, err := env.manager.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d notes\n", removed)
		return nil
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withManager(func(env *engineEnv) error {
		stats, err := env.manager.Stats()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withManager(func(env *engineEnv) error {
		result, err := env.manager.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Swept %d notes, freed %d bytes\n", result.Deleted, result.BytesFreed)
		return nil
	})
}

func runFeedback(cmd *cobra.Command, args []string) error {
	if fbHelpful == fbNotGreat {
		return fmt.Errorf("pass exactly one of --helpful or --unhelpful")
	}
	return withManager(func(env *engineEnv) error {
		if err := env.manager.RecordFeedback(args[0], fbHelpful); err != nil {
			return err
		}
		fmt.Println("Feedback recorded.")
		return nil
	})
}
