// Package errors provides error handling for the messages daemon.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//   - Network portability for distributed systems
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "run 'signal-cli link' to authenticate")
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotConnected) {
//	    // queue the send for later
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"strings"

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
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Advanced features
var (
	Handled                 = crdb.Handled
	HandledWithMessage      = crdb.HandledWithMessage
	WithDomain              = crdb.WithDomain
	GetDomain               = crdb.GetDomain
	WithContextTags         = crdb.WithContextTags
	EncodeError             = crdb.EncodeError
	DecodeError             = crdb.DecodeError
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Assertions and panics
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// Common sentinel errors for use across the daemon.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")
)

// Platform lifecycle sentinels.
var (
	// ErrPlatformNotFound indicates the named platform is not configured
	ErrPlatformNotFound = New("platform not found")

	// ErrPlatformFailed indicates a platform exhausted its recovery attempts
	ErrPlatformFailed = New("platform failed")

	// ErrNotAuthenticated indicates a platform has no usable credentials
	ErrNotAuthenticated = New("not authenticated")

	// ErrNotConnected indicates an operation requires a live connection
	ErrNotConnected = New("not connected")
)

// Daemon lifecycle sentinels.
var (
	// ErrAlreadyRunning indicates another daemon instance holds the PID file
	ErrAlreadyRunning = New("daemon already running")

	// ErrDaemonNotRunning indicates no daemon is listening on the socket
	ErrDaemonNotRunning = New("daemon not running")
)

// Sync state sentinels.
var (
	// ErrInvalidSyncStateID indicates a sync state id did not parse
	ErrInvalidSyncStateID = New("invalid sync state id")

	// ErrWatermarkRegression indicates an attempt to move a watermark backwards
	ErrWatermarkRegression = New("watermark regression")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
// Also provides backward compatibility with string-based "not found" errors.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	// Check if error is or wraps our sentinel error
	if Is(err, ErrNotFound) {
		return true
	}
	// Backward compatibility: check error message
	// This supports existing code that returns custom error strings
	errMsg := err.Error()
	return len(errMsg) >= 9 && (errMsg == "not found" ||
		errMsg[len(errMsg)-9:] == "not found" ||
		len(errMsg) > 10 && errMsg[:10] == "not found:")
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsServiceUnavailableError checks if an error is or wraps ErrServiceUnavailable
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// IsPlatformNotFound checks if an error is or wraps ErrPlatformNotFound
func IsPlatformNotFound(err error) bool {
	return err != nil && Is(err, ErrPlatformNotFound)
}

// IsNotAuthenticated checks if an error is or wraps ErrNotAuthenticated
func IsNotAuthenticated(err error) bool {
	return err != nil && Is(err, ErrNotAuthenticated)
}

// IsNotConnected checks if an error is or wraps ErrNotConnected
func IsNotConnected(err error) bool {
	return err != nil && Is(err, ErrNotConnected)
}

// IsAlreadyRunning checks if an error is or wraps ErrAlreadyRunning
func IsAlreadyRunning(err error) bool {
	return err != nil && Is(err, ErrAlreadyRunning)
}

// IsDaemonNotRunning checks if an error is or wraps ErrDaemonNotRunning.
// Also matches the raw connection-refused text a stale socket produces.
func IsDaemonNotRunning(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrDaemonNotRunning) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such file or directory")
}

// WrapNotFound wraps an error as a not-found error with context
func WrapNotFound(err error, context string) error {
	return Wrap(Wrap(ErrNotFound, err.Error()), context)
}

// WrapInvalidRequest wraps an error as an invalid-request error with context
func WrapInvalidRequest(err error, context string) error {
	return Wrap(Wrap(ErrInvalidRequest, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
