package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/scribe/cmd/scribe/commands"
	"github.com/teranos/scribe/logger"
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "scribe - asynchronous media transcription dispatcher",
	Long: `scribe - asynchronous media transcription dispatcher.

Accepts audio/video uploads or URLs, transcribes them one at a time in the
background and keeps a history of finished jobs.

Available commands:
  serve    - Start the dispatcher and HTTP API
  doctor   - Check external tools and the data directory
  history  - List finished jobs
  am       - Manage scribe configuration ("I am")
  version  - Show build information

Examples:
  scribe serve                 # Start on 127.0.0.1:8000
  scribe doctor                # Validate the environment
  scribe history --format json # Dump history as JSON
  scribe am show               # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DoctorCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
