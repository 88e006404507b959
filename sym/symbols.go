// Package sym defines canonical symbols for daemon lifecycle markers and
// platform glyphs. These symbols are stable across CLI output, logs, and
// documentation.
package sym

// Lifecycle and infrastructure symbols.
const (
	Open   = "✿" // graceful startup with state recovery
	Close  = "❀" // graceful shutdown with clean lifecycle record
	DB     = "⊔" // database/storage layer
	Sock   = "⌁" // IPC socket traffic
	Mail   = "✉" // message ingestion
	Health = "✚" // health monitor verdicts
)

// Per-platform glyphs — the visual shorthand used in status tables and logs.
const (
	Signal   = "◆"
	WhatsApp = "✆"
	Discord  = "◈"
	Telegram = "✈"
	Gmail    = "@"
	GitLog   = "⎇"
)

// entry binds a platform id to its glyph and human label.
type entry struct {
	platform string
	glyph    string
	label    string
}

// registry is the canonical mapping between platform ids and their glyphs.
// Order matches the platform manager's priority order.
var registry = []entry{
	{"signal", Signal, "Signal"},
	{"whatsapp", WhatsApp, "WhatsApp"},
	{"discord", Discord, "Discord"},
	{"telegram", Telegram, "Telegram"},
	{"gmail", Gmail, "Gmail"},
	{"gitlog", GitLog, "Git log"},
}

// Lookup tables built from the registry at init time.
var (
	platformToGlyph map[string]string
	platformToLabel map[string]string
)

func init() {
	platformToGlyph = make(map[string]string, len(registry))
	platformToLabel = make(map[string]string, len(registry))
	for _, e := range registry {
		platformToGlyph[e.platform] = e.glyph
		platformToLabel[e.platform] = e.label
	}
}

// PlatformGlyph returns the glyph for a platform id, or "·" for unknown ids.
func PlatformGlyph(platform string) string {
	if g, ok := platformToGlyph[platform]; ok {
		return g
	}
	return "·"
}

// PlatformLabel returns the display label for a platform id.
// Unknown platforms fall back to the raw id.
func PlatformLabel(platform string) string {
	if l, ok := platformToLabel[platform]; ok {
		return l
	}
	return platform
}

// Platforms returns the known platform ids in priority order.
func Platforms() []string {
	out := make([]string, len(registry))
	for i, e := range registry {
		out[i] = e.platform
	}
	return out
}
