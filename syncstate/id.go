package syncstate

import "strings"

// ID names one sync scope: which platform, which source within it, and
// which scope within the source. Rendered as "platform:source:scope".
// Scope may itself contain colons (IMAP folder paths, channel ids).
type ID struct {
	Platform string
	Source   string
	Scope    string
}

// NewID builds an ID from its parts.
func NewID(platform, source, scope string) ID {
	return ID{Platform: platform, Source: source, Scope: scope}
}

// ParseID splits "platform:source:scope". Everything after the second
// colon belongs to the scope. Returns false on fewer than three parts.
func ParseID(s string) (ID, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 3 {
		return ID{}, false
	}
	return ID{Platform: parts[0], Source: parts[1], Scope: parts[2]}, true
}

func (id ID) String() string {
	return id.Platform + ":" + id.Source + ":" + id.Scope
}
