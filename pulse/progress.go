// Package pulse carries progress signals out of long-running operations
// without coupling them to a particular output (terminal, log, UI).
package pulse

import (
	"go.uber.org/zap"
)

// ProgressEmitter defines the domain-agnostic interface for emitting progress updates
// during long-running operations. Implementations must not block for long and
// must not panic; the caller's result never depends on them.
type ProgressEmitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitProgress announces batch progress with count and optional metadata
	// (e.g. "batch", "batches").
	EmitProgress(count int, metadata map[string]interface{})

	// EmitComplete announces successful completion with summary
	EmitComplete(summary map[string]interface{})

	// EmitError announces an error during processing
	EmitError(stage string, err error)

	// EmitInfo emits general informational message
	EmitInfo(message string)
}

// NopEmitter discards everything
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string) {}
func (NopEmitter) EmitProgress(int, map[string]interface{}) {}
func (NopEmitter) EmitComplete(map[string]interface{}) {}
func (NopEmitter) EmitError(string, error) {}
func (NopEmitter) EmitInfo(string) {}

// LogEmitter forwards progress to a structured logger. Used when output is
// machine readable and terminal decorations would corrupt it.
type LogEmitter struct {
	logger *zap.SugaredLogger
}

// NewLogEmitter creates an emitter writing to log
func NewLogEmitter(log *zap.SugaredLogger) *LogEmitter {
	return &LogEmitter{logger: log}
}

func (e *LogEmitter) EmitStage(stage string, message string) {
	e.logger.Infow(message, "stage", stage)
}

func (e *LogEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	kv := make([]interface{}, 0, 2+2*len(metadata))
	kv = append(kv, "count", count)
	for k, v := range metadata {
		kv = append(kv, k, v)
	}
	e.logger.Infow("Progress", kv...)
}

func (e *LogEmitter) EmitComplete(summary map[string]interface{}) {
	kv := make([]interface{}, 0, 2*len(summary))
	for k, v := range summary {
		kv = append(kv, k, v)
	}
	e.logger.Infow("Complete", kv...)
}

func (e *LogEmitter) EmitError(stage string, err error) {
	e.logger.Warnw("Stage error", "stage", stage, "error", err)
}

func (e *LogEmitter) EmitInfo(message string) {
	e.logger.Info(message)
}
