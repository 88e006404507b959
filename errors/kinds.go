package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Mark associates an error with a reference error so Is() matches the
// reference through the wrap chain. Used to attach failure kinds.
var Mark = crdb.Mark

// Failure kinds. Attach with Mark; wrapping preserves the kind so the
// predicates below classify errors at component boundaries.
var (
	// ErrConfig marks missing or invalid configuration
	ErrConfig = New("configuration error")

	// ErrAuth marks credentials a platform rejected
	ErrAuth = New("authentication error")

	// ErrTransientNetwork marks timeouts and dropped connections worth retrying
	ErrTransientNetwork = New("transient network error")

	// ErrProtocol marks an unparsable payload received from a platform
	ErrProtocol = New("protocol error")

	// ErrStorage marks a failed store write or read
	ErrStorage = New("storage error")

	// ErrNormalization marks a platform payload that cannot be
	// materialized as a message
	ErrNormalization = New("normalization error")

	// ErrIPC marks a malformed IPC frame
	ErrIPC = New("ipc error")

	// ErrFatal marks an unrecoverable invariant violation
	ErrFatal = New("fatal error")
)

// IsConfigError checks if an error carries the configuration kind
func IsConfigError(err error) bool {
	return err != nil && Is(err, ErrConfig)
}

// IsAuthError checks if an error carries the authentication kind
func IsAuthError(err error) bool {
	return err != nil && Is(err, ErrAuth)
}

// IsTransientNetworkError checks if an error carries the transient network kind
func IsTransientNetworkError(err error) bool {
	return err != nil && Is(err, ErrTransientNetwork)
}

// IsProtocolError checks if an error carries the protocol kind
func IsProtocolError(err error) bool {
	return err != nil && Is(err, ErrProtocol)
}

// IsStorageError checks if an error carries the storage kind
func IsStorageError(err error) bool {
	return err != nil && Is(err, ErrStorage)
}

// IsNormalizationError checks if an error carries the normalization kind
func IsNormalizationError(err error) bool {
	return err != nil && Is(err, ErrNormalization)
}

// IsIPCError checks if an error carries the ipc kind
func IsIPCError(err error) bool {
	return err != nil && Is(err, ErrIPC)
}

// IsFatalError checks if an error carries the fatal kind
func IsFatalError(err error) bool {
	return err != nil && Is(err, ErrFatal)
}
