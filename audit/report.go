package audit

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"
)

// Report is the outcome of one audit run
type Report struct {
	WorkItemType   string         `json:"work_item_type"`
	TotalScanned   int            `json:"total_scanned"`
	Classified     int            `json:"classified"`
	Unclassified   int            `json:"unclassified"`
	Batches        int            `json:"batches"`
	SkippedBatches []SkippedBatch `json:"skipped_batches"`
	MissingItems   []int          `json:"missing_items"`
	Violators      []Result       `json:"violators"`
}

// NewReport aggregates classification results. Violators keep fetch order.
func NewReport(workItemType string, totalScanned int, fetched FetchResult, results []Result) *Report {
	r := &Report{
		WorkItemType:   workItemType,
		TotalScanned:   totalScanned,
		Classified:     len(results),
		Unclassified:   fetched.UnclassifiedItems(),
		Batches:        fetched.Batches,
		SkippedBatches: fetched.Skipped,
		MissingItems:   fetched.Missing,
		Violators:      []Result{},
	}
	if r.SkippedBatches == nil {
		r.SkippedBatches = []SkippedBatch{}
	}
	if r.MissingItems == nil {
		r.MissingItems = []int{}
	}
	for _, res := range results {
		if res.IsViolator {
			r.Violators = append(r.Violators, res)
		}
	}
	return r
}

// BuildReport classifies fetched records and aggregates them
func BuildReport(workItemType string, totalScanned int, fetched FetchResult, urls URLBuilder) *Report {
	return NewReport(workItemType, totalScanned, fetched, ClassifyAll(fetched.Records, urls))
}

// Complete reports whether every scanned item was classified
func (r *Report) Complete() bool {
	return len(r.SkippedBatches) == 0 && len(r.MissingItems) == 0 && r.Classified >= r.TotalScanned
}

// ViolatorIDs returns violator ids in report order
func (r *Report) ViolatorIDs() []int {
	ids := make([]int, len(r.Violators))
	for i, v := range r.Violators {
		ids[i] = v.ItemID
	}
	return ids
}

// RenderOptions controls text rendering
type RenderOptions struct {
	TitleWidth int // titles longer than this are cut with "..."
}

// Render writes the human-readable report: a count line, warning lines when
// coverage is incomplete, and one table row per violator.
func (r *Report) Render(w io.Writer, opts RenderOptions) error {
	if opts.TitleWidth <= 0 {
		opts.TitleWidth = 60
	}

	label := r.WorkItemType
	if label == "" {
		label = "work"
	}

	if _, err := fmt.Fprintf(w, "Scanned %d %s items, %d classified: %d without a parent link\n",
		r.TotalScanned, label, r.Classified, len(r.Violators)); err != nil {
		return err
	}

	for _, line := range r.incompleteLines() {
		if _, err := fmt.Fprintln(w, pterm.Yellow(line)); err != nil {
			return err
		}
	}

	if len(r.Violators) == 0 {
		return nil
	}

	data := pterm.TableData{{"ID", "State", "Title", "URL"}}
	for _, v := range r.Violators {
		data = append(data, []string{
			strconv.Itoa(v.ItemID),
			v.State,
			Truncate(v.Title, opts.TitleWidth),
			v.WebURL,
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table)
	return err
}

func (r *Report) incompleteLines() []string {
	if r.Complete() {
		return nil
	}
	var lines []string
	if len(r.SkippedBatches) > 0 {
		skipped := 0
		for _, s := range r.SkippedBatches {
			skipped += len(s.ItemIDs)
		}
		lines = append(lines, fmt.Sprintf("%d of %d batches skipped (%d items unclassified); results are incomplete",
			len(r.SkippedBatches), r.Batches, skipped))
	}
	if len(r.MissingItems) > 0 {
		lines = append(lines, fmt.Sprintf("%d items not returned by the tracker; results are incomplete",
			len(r.MissingItems)))
	}
	if len(lines) == 0 {
		lines = append(lines, fmt.Sprintf("%d of %d items unclassified; results are incomplete",
			r.TotalScanned-r.Classified, r.TotalScanned))
	}
	return lines
}

// Truncate shortens s to at most width runes, ending in "..." when cut
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
