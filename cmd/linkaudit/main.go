package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/linkaudit/audit"
	"github.com/teranos/linkaudit/cmd/linkaudit/commands"
	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/logger"
)

var rootCmd = &cobra.Command{
	Use:   "linkaudit",
	Short: "Find work items that have no parent link",
	Long: `linkaudit - work item relationship audit

Queries a work tracking project for items of one type, fetches each item's
relations in paced batches, and reports every item without a parent
(hierarchy-reverse) link.

Available commands:
  audit   - Run the audit and print violators
  history - Inspect recorded audit runs
  am      - Show and validate configuration
  version - Show build information

Examples:
  linkaudit audit                      # Audit Tasks with the configured project
  linkaudit audit --type Bug --json    # Audit Bugs, JSON report on stdout
  linkaudit audit --record             # Also store the run in the history database
  linkaudit history ls                 # List recorded runs
  linkaudit am show                    # Show current configuration`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logJSON, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(logJSON, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs to stderr as JSON")

	rootCmd.AddCommand(commands.AuditCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "linkaudit: %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
		}
		logger.Cleanup()
		os.Exit(audit.ExitCode(err))
	}
}
