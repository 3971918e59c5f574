package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/logger"
	"github.com/teranos/linkaudit/pulse"
	"github.com/teranos/linkaudit/tracker"
)

// State is a pipeline stage
type State int

const (
	StateStart State = iota
	StateQuerying
	StateFetching
	StateClassifying
	StateReporting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateQuerying:
		return "querying"
	case StateFetching:
		return "fetching"
	case StateClassifying:
		return "classifying"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tracker is what the pipeline needs from the work tracking service
type Tracker interface {
	BatchClient
	URLBuilder
	QueryWorkItems(ctx context.Context, wiql string) ([]tracker.ItemReference, error)
}

// Connector returns a ready tracker client, or a configuration error.
// It must not touch the network.
type Connector func() (Tracker, error)

// Options parameterize one audit run
type Options struct {
	WorkItemType string
	Query        string // WIQL text, see tracker.BuildQuery
	BatchSize    int
	BatchDelay   time.Duration
	TraceItems   bool // log every classification at debug level
}

// Driver runs query, fetch, classify and report in sequence
type Driver struct {
	connect     Connector
	opts        Options
	progress    pulse.ProgressEmitter
	logger      *zap.SugaredLogger
	fetcherOpts []FetcherOption

	state       State
	transitions []State
}

// NewDriver creates a pipeline driver. fetcherOpts are passed to the batch fetcher.
func NewDriver(connect Connector, opts Options, progress pulse.ProgressEmitter, log *zap.SugaredLogger, fetcherOpts ...FetcherOption) *Driver {
	if progress == nil {
		progress = pulse.NopEmitter{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Driver{
		connect:     connect,
		opts:        opts,
		progress:    progress,
		logger:      log,
		fetcherOpts: fetcherOpts,
		state:       StateStart,
	}
}

// State returns the current stage
func (d *Driver) State() State {
	return d.state
}

// Transitions returns every stage entered, in order
func (d *Driver) Transitions() []State {
	return append([]State(nil), d.transitions...)
}

// Run executes the pipeline. Configuration and query failures are fatal and
// returned; batch failures are absorbed into the report.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	log := logger.FromContext(ctx, d.logger)
	d.transition(log, StateStart)

	if d.opts.Query == "" {
		return nil, d.fail(log, "start", errors.NewConfigError("no work item query to run"))
	}
	if d.connect == nil {
		return nil, d.fail(log, "start", errors.NewConfigError("no tracker connector"))
	}
	client, err := d.connect()
	if err != nil {
		if !errors.IsConfigError(err) {
			err = errors.Mark(err, errors.ErrConfig)
		}
		return nil, d.fail(log, "start", err)
	}

	d.transition(log, StateQuerying)
	d.progress.EmitStage("query", "Querying "+d.label()+" work items")
	refs, err := client.QueryWorkItems(ctx, d.opts.Query)
	if err != nil {
		if !errors.IsQueryError(err) {
			err = errors.WrapQuery(err, "work item query")
		}
		return nil, d.fail(log, "query", err)
	}
	log.Infow("Query returned references", logger.FieldCount, len(refs))

	d.transition(log, StateFetching)
	d.progress.EmitStage("fetch", "Fetching work item records")
	opts := append([]FetcherOption{WithProgress(d.progress)}, d.fetcherOpts...)
	fetcher := NewFetcher(client, d.opts.BatchSize, d.opts.BatchDelay, log.Named("fetcher"), opts...)
	fetched := fetcher.FetchAll(ctx, refs)

	d.transition(log, StateClassifying)
	results := ClassifyAll(fetched.Records, client)
	if d.opts.TraceItems {
		for _, r := range results {
			log.Debugw("Classified", logger.FieldItemID, r.ItemID, "violator", r.IsViolator)
		}
	}

	d.transition(log, StateReporting)
	report := NewReport(d.opts.WorkItemType, fetched.Requested, fetched, results)

	d.transition(log, StateDone)
	d.progress.EmitComplete(map[string]interface{}{
		"scanned":   report.TotalScanned,
		"violators": len(report.Violators),
		"skipped":   len(report.SkippedBatches),
	})
	log.Infow("Audit complete",
		logger.FieldTotalCount, report.TotalScanned,
		logger.FieldViolators, len(report.Violators),
		logger.FieldSkipped, len(report.SkippedBatches),
	)

	return report, nil
}

func (d *Driver) label() string {
	if d.opts.WorkItemType == "" {
		return "all"
	}
	return d.opts.WorkItemType
}

func (d *Driver) transition(log *zap.SugaredLogger, s State) {
	d.state = s
	d.transitions = append(d.transitions, s)
	log.Debugw("Pipeline state", logger.FieldState, s.String())
}

func (d *Driver) fail(log *zap.SugaredLogger, stage string, err error) error {
	d.transition(log, StateFailed)
	d.progress.EmitError(stage, err)
	log.Errorw("Audit failed", "stage", stage, logger.FieldError, err.Error())
	return err
}

// ExitCode maps a run outcome to a process exit code: 0 for a completed run
// regardless of violators, 1 for any fatal error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
