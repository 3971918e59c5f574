package commands

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/linkaudit/am"
	"github.com/teranos/linkaudit/audit"
	"github.com/teranos/linkaudit/display"
	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/history"
	"github.com/teranos/linkaudit/logger"
)

// HistoryCmd groups the run history subcommands
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded audit runs",
	Long: `Inspect audit runs stored with --record or history.enabled.

Examples:
  linkaudit history ls              # Most recent runs
  linkaudit history ls --limit 50
  linkaudit history show <run-id>   # Violators of one run`,
}

var historyLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryLs,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the violators recorded for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyLimit int

func init() {
	historyLsCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 = all)")
	historyLsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	historyShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	HistoryCmd.AddCommand(historyLsCmd)
	HistoryCmd.AddCommand(historyShowCmd)
}

func openHistory() (*history.Store, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if cfg.History.Path == "" {
		return nil, errors.NewConfigError("history.path is not set")
	}
	return history.NewStore(cfg.History.Path, logger.ComponentLogger("history")), nil
}

func runHistoryLs(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs")
		return nil
	}

	data := pterm.TableData{{"Run", "Started", "Type", "Scanned", "Violators", "Skipped"}}
	for _, r := range runs {
		data = append(data, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.WorkItemType,
			strconv.Itoa(r.TotalScanned),
			strconv.Itoa(r.ViolatorCount),
			fmt.Sprintf("%d/%d", r.SkippedBatches, r.Batches),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), table)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	violators, err := store.Violators(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), violators)
	}
	if len(violators) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No violators recorded for run %s\n", args[0])
		return nil
	}

	data := pterm.TableData{{"ID", "State", "Title", "URL"}}
	for _, v := range violators {
		data = append(data, []string{strconv.Itoa(v.ItemID), v.State, audit.Truncate(v.Title, am.DefaultTitleWidth), v.WebURL})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), table)
	return nil
}
