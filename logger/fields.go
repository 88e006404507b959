package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across the daemon.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldPlatform  = "platform"
	FieldMessageID = "message_id"
	FieldThreadID  = "thread_id"
	FieldAccountID = "account_id"
	FieldRunID     = "run_id"
	FieldConnID    = "conn_id"

	// Components
	FieldComponent = "component"
	FieldAdapter   = "adapter"

	// Operations
	FieldOperation = "operation"
	FieldCommand   = "command"
	FieldScope     = "scope"
	FieldWatermark = "watermark"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldStartTime  = "start_time"
	FieldEndTime    = "end_time"

	// Errors
	FieldError     = "error"
	FieldErrorType = "error_type"
	FieldAttempt   = "attempt"

	// Counts and sizes
	FieldCount     = "count"
	FieldSize      = "size"
	FieldBatchSize = "batch_size"
	FieldMessages  = "messages"

	// Status
	FieldStatus  = "status"
	FieldHealthy = "healthy"
	FieldTotal   = "total"
	FieldState   = "state"

	// Files and paths
	FieldFile   = "file"
	FieldPath   = "path"
	FieldSocket = "socket"

	// Network
	FieldAddress = "address"
	FieldHost    = "host"

	// Daemon-specific
	FieldSymbol = "symbol" // lifecycle/storage glyph (✿, ❀, ⊔)
	FieldPID    = "pid"
	FieldUptime = "uptime_seconds"
)

// Context keys for propagating logging context
type contextKey string

const (
	platformKey  contextKey = "logger_platform"
	connIDKey    contextKey = "logger_conn_id"
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithPlatform adds a platform id to the context for logging
func WithPlatform(ctx context.Context, platform string) context.Context {
	return context.WithValue(ctx, platformKey, platform)
}

// WithConnID adds an IPC connection id to the context for logging
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}

// WithRunID adds a daemon run id to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if platform, ok := ctx.Value(platformKey).(string); ok && platform != "" {
		fields = append(fields, FieldPlatform, platform)
	}
	if connID, ok := ctx.Value(connIDKey).(string); ok && connID != "" {
		fields = append(fields, FieldConnID, connID)
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
// Use this to get a logger that automatically includes platform, conn_id, etc.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Monitor struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewMonitor() *Monitor {
//	    return &Monitor{
//	        logger: logger.ComponentLogger("health"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
// Use for sub-operations that need extra context fields.
//
// Example:
//
//	platformLogger := logger.ChildLogger(baseLogger, "platform", adapter.ID())
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
