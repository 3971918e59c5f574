package display

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/teranos/linkaudit/pulse"
)

var _ pulse.ProgressEmitter = (*ProgressPrinter)(nil)

// ProgressPrinter renders pipeline progress for humans, one line per event.
// Batch progress reads "batch i/n".
type ProgressPrinter struct {
	w       io.Writer
	info    *pterm.PrefixPrinter
	warning *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
}

// NewProgressPrinter creates a printer writing to w (normally stderr, so the
// report on stdout stays clean)
func NewProgressPrinter(w io.Writer) *ProgressPrinter {
	return &ProgressPrinter{
		w:       w,
		info:    pterm.Info.WithWriter(w),
		warning: pterm.Warning.WithWriter(w),
		success: pterm.Success.WithWriter(w),
	}
}

func (p *ProgressPrinter) EmitStage(stage string, message string) {
	p.info.Println(message)
}

func (p *ProgressPrinter) EmitProgress(count int, metadata map[string]interface{}) {
	batch, _ := metadata["batch"].(int)
	batches, _ := metadata["batches"].(int)
	ok, hasOK := metadata["ok"].(bool)

	status := pterm.Green("ok")
	if hasOK && !ok {
		status = pterm.Red("skipped")
	}
	fmt.Fprintf(p.w, "  batch %d/%d  %d items  %s\n", batch, batches, count, status)
}

func (p *ProgressPrinter) EmitComplete(summary map[string]interface{}) {
	p.success.Printfln("Scanned %v items: %v violators, %v batches skipped",
		summary["scanned"], summary["violators"], summary["skipped"])
}

func (p *ProgressPrinter) EmitError(stage string, err error) {
	p.warning.Printfln("%s: %v", stage, err)
}

func (p *ProgressPrinter) EmitInfo(message string) {
	p.info.Println(message)
}
