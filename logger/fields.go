package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID     = "run_id"
	FieldComponent = "component"

	// Tracker
	FieldOrg          = "org"
	FieldProject      = "project"
	FieldWorkItemType = "work_item_type"
	FieldItemID       = "item_id"
	FieldURL          = "url"
	FieldStatusCode   = "status_code"

	// Pipeline
	FieldState      = "state"
	FieldBatch      = "batch"
	FieldBatches    = "batches"
	FieldBatchSize  = "batch_size"
	FieldCount      = "count"
	FieldTotalCount = "total_count"
	FieldViolators  = "violators"
	FieldSkipped    = "skipped_batches"

	// Files
	FieldPath    = "path"
	FieldVersion = "version"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldDelayMS    = "delay_ms"

	// Errors
	FieldError = "error"
)

type contextKey string

const runIDKey contextKey = "logger_run_id"

// WithRunID adds an audit run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}
	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	return fields
}

// FromContext returns base with fields extracted from context.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	fetcher := audit.NewFetcher(client, opts, logger.ComponentLogger("audit.fetcher"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
