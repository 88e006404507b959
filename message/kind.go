package message

import "fmt"

// Kind classifies a message. The integer space is partitioned into
// ranges so new sources can be added without renumbering; readers must
// tolerate kinds they do not know.
type Kind int

// Range boundaries.
const (
	kindCoreMax     Kind = 99
	kindClaudeMin   Kind = 100
	kindClaudeMax   Kind = 199
	kindGitMin      Kind = 200
	kindGitMax      Kind = 249
	kindPlatformMin Kind = 1000
)

// Core kinds (0-99).
const (
	KindNote Kind = 0
)

// Claude event kinds (100-199).
const (
	KindClaudeSession Kind = 100
	KindClaudeMessage Kind = 101
)

// Git kinds (200-249).
const (
	KindGitCommit Kind = 200
)

// Platform message kinds (1000+).
const (
	KindSignalMessage   Kind = 1000
	KindWhatsAppMessage Kind = 1001
	KindDiscordMessage  Kind = 1002
	KindTelegramMessage Kind = 1003
	KindEmailMessage    Kind = 1004
)

// Range names the partition a kind belongs to.
func (k Kind) Range() string {
	switch {
	case k >= kindPlatformMin:
		return "platform"
	case k >= kindGitMin && k <= kindGitMax:
		return "git"
	case k >= kindClaudeMin && k <= kindClaudeMax:
		return "claude"
	case k >= 0 && k <= kindCoreMax:
		return "core"
	default:
		return "unknown"
	}
}

var kindNames = map[Kind]string{
	KindNote:            "note",
	KindClaudeSession:   "claude_session",
	KindClaudeMessage:   "claude_message",
	KindGitCommit:       "git_commit",
	KindSignalMessage:   "signal_message",
	KindWhatsAppMessage: "whatsapp_message",
	KindDiscordMessage:  "discord_message",
	KindTelegramMessage: "telegram_message",
	KindEmailMessage:    "email_message",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}
