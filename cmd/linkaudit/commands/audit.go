package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teranos/linkaudit/am"
	"github.com/teranos/linkaudit/audit"
	"github.com/teranos/linkaudit/display"
	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/history"
	"github.com/teranos/linkaudit/logger"
	"github.com/teranos/linkaudit/pulse"
)

// AuditCmd runs the relationship audit
var AuditCmd = NewAuditCmd()

// NewAuditCmd builds the audit command with its flags
func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report work items without a parent link",
		Long: `Run the relationship audit against the configured project.

The report goes to stdout; progress and logs go to stderr. The exit code is 0
whenever the audit completes, even with violators or skipped batches, and 1
when configuration is missing or the initial query fails.

Examples:
  linkaudit audit
  linkaudit audit --type "User Story" --area "Fabrikam Fiber\Web"
  linkaudit audit --exclude-state Closed --exclude-state Removed
  linkaudit audit --json > violators.json`,
		Args: cobra.NoArgs,
		RunE: runAudit,
	}

	cmd.Flags().String("type", "", "Work item type to audit (default from audit.work_item_type)")
	cmd.Flags().String("area", "", "Limit to an area path subtree")
	cmd.Flags().StringSlice("exclude-state", nil, "States to leave out (repeatable)")
	cmd.Flags().Int("batch-size", 0, "Items per batch request, 1-200")
	cmd.Flags().Int("delay", 0, "Milliseconds between batch requests, at least 300")
	cmd.Flags().Int("title-width", 0, "Maximum title width in the text report")
	cmd.Flags().BoolP("json", "j", false, "Write the report as JSON")
	cmd.Flags().Bool("record", false, "Store the run in the history database")
	return cmd
}

// applyAuditFlags overrides configuration with flags the user set
func applyAuditFlags(cmd *cobra.Command, cfg *am.Config) {
	flags := cmd.Flags()
	if flags.Changed("type") {
		cfg.Audit.WorkItemType, _ = flags.GetString("type")
	}
	if flags.Changed("area") {
		cfg.Audit.AreaPath, _ = flags.GetString("area")
	}
	if flags.Changed("exclude-state") {
		cfg.Audit.ExcludeStates, _ = flags.GetStringSlice("exclude-state")
	}
	if flags.Changed("batch-size") {
		cfg.Audit.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("delay") {
		cfg.Audit.BatchDelayMS, _ = flags.GetInt("delay")
	}
	if flags.Changed("title-width") {
		cfg.Audit.TitleWidth, _ = flags.GetInt("title-width")
	}
	if record, _ := flags.GetBool("record"); record {
		cfg.History.Enabled = true
	}
}

func runAudit(cmd *cobra.Command, args []string) error {
	loaded, err := am.Load()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to load configuration"), errors.ErrConfig)
	}
	// Flags must not leak into the cached configuration
	cfgCopy := *loaded
	cfgCopy.Audit.ExcludeStates = append([]string(nil), loaded.Audit.ExcludeStates...)
	cfg := &cfgCopy
	applyAuditFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.ComponentLogger("audit")

	jsonOut := display.ShouldOutputJSON(cmd)
	var progress pulse.ProgressEmitter
	if jsonOut {
		progress = pulse.NewLogEmitter(logger.ComponentLogger("progress"))
	} else {
		progress = display.NewProgressPrinter(cmd.ErrOrStderr())
	}

	opts := audit.OptionsFromConfig(cfg)
	verbosity, _ := cmd.Flags().GetCount("verbose")
	opts.TraceItems = logger.ShouldLogTrace(verbosity)

	started := time.Now()
	driver := audit.NewDriver(
		audit.ConfigConnector(cfg, logger.ComponentLogger("tracker")),
		opts,
		progress,
		log,
	)
	report, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	finished := time.Now()

	if jsonOut {
		if err := display.OutputJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else if err := report.Render(cmd.OutOrStdout(), audit.RenderOptions{TitleWidth: cfg.Audit.TitleWidth}); err != nil {
		return errors.Wrap(err, "failed to write report")
	}

	if cfg.History.Enabled {
		recordRun(ctx, cfg, report, history.Meta{
			RunID:      runID,
			Org:        cfg.Tracker.Org,
			Project:    cfg.Tracker.Project,
			StartedAt:  started,
			FinishedAt: finished,
		})
	}

	return nil
}

// recordRun stores the run. A history failure is logged and does not change
// the outcome of a completed audit.
func recordRun(ctx context.Context, cfg *am.Config, report *audit.Report, meta history.Meta) {
	log := logger.FromContext(ctx, logger.ComponentLogger("history"))

	store := history.NewStore(cfg.History.Path, log)
	defer store.Close()

	if err := store.Record(ctx, history.NewRun(report, meta)); err != nil {
		log.Warnw("Failed to record audit run", "path", cfg.History.Path, logger.FieldError, err.Error())
	}
}
