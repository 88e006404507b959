// Package state persists daemon runtime state: run lifecycle, per
// platform status, and sync watermarks.
//
// A write that cannot be durably committed returns an error marked with
// ErrStorage; the caller must not treat the guarded operation as
// complete (in particular, watermarks must not advance past it).
package state

import (
	"time"

	"github.com/teranos/messagesd/errors"
)

// ErrStorage marks write failures. Check with errors.Is. Alias of the
// shared storage kind so callers can classify through either name.
var ErrStorage = errors.ErrStorage

// storageErr wraps a write failure with context and the ErrStorage mark.
func storageErr(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrStorage)
}

// PlatformStatus is the lifecycle state of one platform connection.
type PlatformStatus string

// Platform statuses.
const (
	StatusStopped      PlatformStatus = "stopped"
	StatusStarting     PlatformStatus = "starting"
	StatusConnected    PlatformStatus = "connected"
	StatusDisconnected PlatformStatus = "disconnected"
	StatusError        PlatformStatus = "error"
	StatusRecovering   PlatformStatus = "recovering"
)

// PlatformState is the persisted per-platform row. ErrorCount and
// MessageCount only ever grow; ReconnectAttempts resets to zero on a
// successful recovery.
type PlatformState struct {
	Platform          string         `json:"platform"`
	Status            PlatformStatus `json:"status"`
	LastConnected     *time.Time     `json:"last_connected,omitempty"`
	LastMessage       *time.Time     `json:"last_message,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	ErrorCount        int            `json:"error_count"`
	MessageCount      int            `json:"message_count"`
	ReconnectAttempts int            `json:"reconnect_attempts"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Patch carries the optional field updates for PlatformStore.Save.
// Nil pointer fields are left untouched; the increment fields add.
type Patch struct {
	LastConnected     *time.Time
	LastMessage       *time.Time
	LastError         *string
	ErrorInc          int
	MessageInc        int
	ReconnectAttempts *int
}

// Run is one daemon run recorded in daemon_lifecycle.
// CleanShutdown is nil while the run is (or appears to be) live.
type Run struct {
	RunID         string     `json:"run_id"`
	PID           int        `json:"pid"`
	Hostname      string     `json:"hostname,omitempty"`
	Version       string     `json:"version,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	CleanShutdown *bool      `json:"clean_shutdown,omitempty"`
}
