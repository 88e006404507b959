package logger

// Output controls what categories of information are shown at each verbosity level.
//
// Unlike log levels (which filter by severity), output categories control
// WHAT types of information are displayed regardless of severity.
//
// Verbosity Levels:
//
//	0 (default) - User-facing output only: results, errors with hints, final status
//	1 (-v)      - + Progress, startup info, platform status, fetch summaries
//	2 (-vv)     - + Timing, config loaded, IPC commands, sync watermarks
//	3 (-vvv)    - + Helper stdout/stderr, SQL queries, wire-level events
//	4 (-vvvv)   - + Full adapter payload dumps

// OutputCategory defines a category of output that can be enabled/disabled
type OutputCategory int

const (
	// Level 0 (default) - Always shown
	OutputResults    OutputCategory = iota // Command output
	OutputErrors                           // Errors with hints and resolution steps
	OutputUserStatus                       // Final success/failure status

	// Level 1 (-v) - Informational
	OutputProgress       // Progress indicators (e.g., "Fetching 50/312 envelopes")
	OutputStartup        // Startup banners, config summary
	OutputPlatformStatus // Platform connected/disconnected/recovering

	// Level 2 (-vv) - Detailed
	OutputTiming    // Operation timing (e.g., "batch took 42ms")
	OutputConfig    // Config values loaded/applied
	OutputIPCCalls  // IPC commands handled
	OutputSyncState // Watermark loads and advances

	// Level 3 (-vvv) - Debug
	OutputHelperLogs // Helper process stdout/stderr forwarding
	OutputSQLQueries // Individual SQL queries executed
	OutputWireEvents // Raw adapter wire events

	// Level 4 (-vvvv) - Full dump
	OutputPayloadDump // Full adapter payload contents
)

// categoryLevels maps each output category to its minimum verbosity level
var categoryLevels = map[OutputCategory]int{
	// Level 0 - Always shown
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	// Level 1 - Informational
	OutputProgress:       VerbosityInfo,
	OutputStartup:        VerbosityInfo,
	OutputPlatformStatus: VerbosityInfo,

	// Level 2 - Detailed
	OutputTiming:    VerbosityDebug,
	OutputConfig:    VerbosityDebug,
	OutputIPCCalls:  VerbosityDebug,
	OutputSyncState: VerbosityDebug,

	// Level 3 - Debug
	OutputHelperLogs: VerbosityTrace,
	OutputSQLQueries: VerbosityTrace,
	OutputWireEvents: VerbosityTrace,

	// Level 4 - Full dump
	OutputPayloadDump: VerbosityAll,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		// Unknown category, default to highest verbosity required
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

// categoryNames provides human-readable names for output categories
var categoryNames = map[OutputCategory]string{
	OutputResults:        "results",
	OutputErrors:         "errors",
	OutputUserStatus:     "status",
	OutputProgress:       "progress",
	OutputStartup:        "startup",
	OutputPlatformStatus: "platform-status",
	OutputTiming:         "timing",
	OutputConfig:         "config",
	OutputIPCCalls:       "ipc",
	OutputSyncState:      "sync-state",
	OutputHelperLogs:     "helper-logs",
	OutputSQLQueries:     "sql",
	OutputWireEvents:     "wire",
	OutputPayloadDump:    "payload-dump",
}

// CategoryName returns the human-readable name for an output category
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}

// EnabledCategories returns all output categories enabled at the given verbosity
func EnabledCategories(verbosity int) []OutputCategory {
	var enabled []OutputCategory
	for cat, minLevel := range categoryLevels {
		if verbosity >= minLevel {
			enabled = append(enabled, cat)
		}
	}
	return enabled
}

// VerbosityDescription returns a description of what's shown at each level
func VerbosityDescription(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "results and errors only"
	case VerbosityInfo:
		return "results, errors, progress, and platform status"
	case VerbosityDebug:
		return "above + timing, config, IPC commands, watermarks"
	case VerbosityTrace:
		return "above + helper logs, SQL, wire events"
	case VerbosityAll:
		return "full output including adapter payload dumps"
	default:
		if verbosity > VerbosityAll {
			return "maximum verbosity"
		}
		return "unknown verbosity level"
	}
}
