package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	domain string
	json   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "shelfsync",
		Short: "Offline-first sync for a personal media and places tracker",
		Long: `shelfsync keeps a local replica of your media and places collections
and reconciles it with documents in your cloud drive.

Configuration is read from the environment (or a .env file):
  REMOTE_BASE_URL         - Drive API base URL (sync is disabled when empty)
  REMOTE_TOKEN            - Bearer credential (a token saved with login wins)
  REMOTE_FOLDER           - Drive folder holding the documents (default: media-tracker)
  STATE_PATH              - Local replica database (default: ~/.shelfsync/state.db)
  LISTEN_ADDR             - UI API address for serve (default: 127.0.0.1:8095)
  SHARES_FILE             - YAML list of joined users' shares`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&flags.domain, "domain", "", "collection to act on (media or places); default all")
	root.PersistentFlags().BoolVar(&flags.json, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newServeCmd(),
		newSyncCmd(flags),
		newConflictCmd(flags),
		newResolveCmd(flags),
		newBackupsCmd(flags),
		newRestoreCmd(flags),
		newLoginCmd(),
	)

	return root
}
