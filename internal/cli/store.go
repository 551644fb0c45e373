package cli

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

var (
	storeSession string
	storeTags    []string
)

var storeCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "Store a note in memory",
	Long: `Store a note in memory. The content is embedded and enters the
short-term working set; a session id is generated when none is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStore,
}

func init() {
	storeCmd.Flags().StringVar(&storeSession, "session", "", "session id (generated if empty)")
	storeCmd.Flags().StringSliceVar(&storeTags, "tag", nil, "tag to attach (repeatable)")
	rootCmd.AddCommand(storeCmd)
}

func runStore(cmd *cobra.Command, args []string) error {
	session := storeSession
	if session == "" {
		var err error
		session, err = gonanoid.New(12)
		if err != nil {
			return fmt.Errorf("generate session id: %w", err)
		}
	}

	metadata := map[string]interface{}{"session_id": session}
	if len(storeTags) > 0 {
		metadata["tags"] = storeTags
	}

	return withManager(func(env *engineEnv) error {
		content := strings.Join(args, " ")
		id, err := env.manager.Store(cmd.Context(), content, metadata)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %s (session %s)\n", id, session)
		return nil
	})
}
