// Package errors provides error handling for linkaudit.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints attached to fatal errors
//
// Usage:
//
//	if err := client.QueryWorkItems(ctx, wiql); err != nil {
//	    return errors.Mark(errors.Wrap(err, "initial query failed"), errors.ErrQuery)
//	}
//
//	// Check the failure class later
//	if errors.Is(err, errors.ErrConfig) {
//	    // missing token, invalid settings
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Failure classes of an audit run. Attach them with Mark so the original
// cause stays in the chain, and test them with Is.
var (
	// ErrConfig indicates missing or invalid configuration (e.g. no token).
	// Fatal, detected before any network activity.
	ErrConfig = New("configuration error")

	// ErrQuery indicates the initial work item query failed or returned a
	// malformed payload. Fatal.
	ErrQuery = New("query failed")

	// ErrBatchFetch indicates a single batch fetch failed. Recoverable: the
	// batch is skipped and the run continues.
	ErrBatchFetch = New("batch fetch failed")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsConfigError checks if an error is or wraps ErrConfig
func IsConfigError(err error) bool {
	return err != nil && Is(err, ErrConfig)
}

// IsQueryError checks if an error is or wraps ErrQuery
func IsQueryError(err error) bool {
	return err != nil && Is(err, ErrQuery)
}

// IsBatchFetchError checks if an error is or wraps ErrBatchFetch
func IsBatchFetchError(err error) bool {
	return err != nil && Is(err, ErrBatchFetch)
}

// NewConfigError creates a configuration error with a formatted message
func NewConfigError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConfig)
}

// WrapQuery marks err as a fatal query failure with context
func WrapQuery(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrQuery)
}

// WrapBatchFetch marks err as a recoverable batch failure with context
func WrapBatchFetch(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrBatchFetch)
}
