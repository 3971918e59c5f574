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

// Batch limits
const (
	MaxBatchSize      = tracker.MaxIDsPerRequest
	DefaultBatchDelay = 300 * time.Millisecond
)

// BatchClient fetches full records for a batch of ids
type BatchClient interface {
	GetWorkItems(ctx context.Context, ids []int) ([]tracker.WorkItem, error)
}

// SleepFunc pauses for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// SkippedBatch records a batch whose fetch failed. Its items stay unclassified.
type SkippedBatch struct {
	Index   int    `json:"index"` // 1-based
	ItemIDs []int  `json:"item_ids"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

// FetchResult is the outcome of hydrating a reference list
type FetchResult struct {
	Requested int                `json:"requested"` // distinct ids sent to the tracker
	Batches   int                `json:"batches"`
	Records   []tracker.WorkItem `json:"-"`
	Skipped   []SkippedBatch     `json:"skipped"`
	Missing   []int              `json:"missing"` // requested but absent from a successful response
}

// UnclassifiedItems counts ids of skipped batches plus ids the tracker did not return
func (r FetchResult) UnclassifiedItems() int {
	n := len(r.Missing)
	for _, s := range r.Skipped {
		n += len(s.ItemIDs)
	}
	return n
}

// Fetcher hydrates references into full records batch by batch. One request
// is in flight at a time and a fixed delay separates consecutive batches.
type Fetcher struct {
	client    BatchClient
	batchSize int
	delay     time.Duration
	sleep     SleepFunc
	progress  pulse.ProgressEmitter
	logger    *zap.SugaredLogger
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithSleep replaces the pacing sleep (tests use it to observe delays)
func WithSleep(sleep SleepFunc) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithProgress sets the progress emitter
func WithProgress(p pulse.ProgressEmitter) FetcherOption {
	return func(f *Fetcher) {
		if p != nil {
			f.progress = p
		}
	}
}

// NewFetcher creates a Fetcher. batchSize outside 1..MaxBatchSize falls back
// to MaxBatchSize; a delay below DefaultBatchDelay is raised to it.
func NewFetcher(client BatchClient, batchSize int, delay time.Duration, log *zap.SugaredLogger, opts ...FetcherOption) *Fetcher {
	if batchSize < 1 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	if delay < DefaultBatchDelay {
		delay = DefaultBatchDelay
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	f := &Fetcher{
		client:    client,
		batchSize: batchSize,
		delay:     delay,
		sleep:     sleepContext,
		progress:  pulse.NopEmitter{},
		logger:    log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll fetches every distinct referenced item. Failed batches are skipped
// and recorded, never retried; FetchAll itself does not fail.
func (f *Fetcher) FetchAll(ctx context.Context, refs []tracker.ItemReference) FetchResult {
	ids := UniqueIDs(refs)
	if dropped := len(refs) - len(ids); dropped > 0 {
		f.logger.Debugw("Dropped duplicate references", logger.FieldCount, dropped)
	}

	batches := Partition(ids, f.batchSize)
	result := FetchResult{
		Requested: len(ids),
		Batches:   len(batches),
		Records:   make([]tracker.WorkItem, 0, len(ids)),
	}

	for i, batch := range batches {
		index := i + 1

		items, err := f.client.GetWorkItems(ctx, batch)
		if err != nil {
			f.skip(&result, index, batch, err)
		} else {
			result.Records = append(result.Records, items...)
			if missing := missingIDs(batch, items); len(missing) > 0 {
				// Deleted or hidden between query and fetch
				result.Missing = append(result.Missing, missing...)
				f.logger.Warnw("Tracker returned fewer records than requested",
					logger.FieldBatch, index,
					logger.FieldCount, len(missing),
				)
			}
			f.logger.Infow("Fetched batch",
				logger.FieldBatch, index,
				logger.FieldBatches, len(batches),
				logger.FieldCount, len(items),
			)
		}

		f.progress.EmitProgress(len(batch), map[string]interface{}{
			"batch":   index,
			"batches": len(batches),
			"ok":      err == nil,
		})

		if index == len(batches) {
			break
		}
		if err := f.sleep(ctx, f.delay); err != nil {
			// Interrupted: the rest is scanned but unclassified
			for j := i + 1; j < len(batches); j++ {
				f.skip(&result, j+1, batches[j], errors.WrapBatchFetch(err, "pacing interrupted"))
			}
			break
		}
	}

	return result
}

func (f *Fetcher) skip(result *FetchResult, index int, batch []int, err error) {
	if !errors.IsBatchFetchError(err) {
		err = errors.WrapBatchFetch(err, "work item batch")
	}
	result.Skipped = append(result.Skipped, SkippedBatch{
		Index:   index,
		ItemIDs: batch,
		Reason:  err.Error(),
		Err:     err,
	})
	f.logger.Warnw("Skipping batch",
		logger.FieldBatch, index,
		logger.FieldBatches, result.Batches,
		logger.FieldCount, len(batch),
		logger.FieldError, err.Error(),
	)
	f.progress.EmitError("fetch", err)
}

// missingIDs returns the ids of batch with no record in items, in batch order
func missingIDs(batch []int, items []tracker.WorkItem) []int {
	got := make(map[int]struct{}, len(items))
	for _, it := range items {
		got[it.ID] = struct{}{}
	}
	var missing []int
	for _, id := range batch {
		if _, ok := got[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// UniqueIDs returns reference ids in order with repeats removed
func UniqueIDs(refs []tracker.ItemReference) []int {
	seen := make(map[int]struct{}, len(refs))
	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		ids = append(ids, ref.ID)
	}
	return ids
}

// Partition splits ids into consecutive chunks of at most size
func Partition(ids []int, size int) [][]int {
	if size < 1 {
		size = MaxBatchSize
	}
	batches := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end:end])
	}
	return batches
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
