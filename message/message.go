// Package message defines the normalized model shared by every platform:
// messages, accounts, threads, and the content addressing that makes
// ingestion idempotent.
package message

import (
	"strings"
	"time"
)

// Author describes who wrote a message, as observed on the wire.
type Author struct {
	Name   string `json:"name,omitempty"`
	Handle string `json:"handle,omitempty"`
	DID    string `json:"did,omitempty"`
}

// Source records where a message came from.
type Source struct {
	Platform   string `json:"platform"`
	PlatformID string `json:"platform_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Refs carries the message's links to other entities.
type Refs struct {
	ThreadID string   `json:"thread_id,omitempty"`
	ReplyTo  string   `json:"reply_to,omitempty"`
	RoomID   string   `json:"room_id,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

// Message is the normalized record stored for every platform payload.
// Immutable once stored: only ImportedAt and Tags may change when the
// same content is ingested again.
type Message struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id,omitempty"`
	Author     Author     `json:"author"`
	CreatedAt  int64      `json:"created_at"`  // originating time, unix ms
	ImportedAt int64      `json:"imported_at"` // ingestion time, unix ms
	Kind       Kind       `json:"kind"`
	Content    string     `json:"content"`
	Title      string     `json:"title,omitempty"`
	Refs       Refs       `json:"refs"`
	Source     Source     `json:"source"`
	Tags       [][]string `json:"tags,omitempty"`
}

// ComputeID returns the content address for this message's canonical tuple.
func (m *Message) ComputeID() string {
	return ContentAddress(m.Kind, m.Author.Handle, m.CreatedAt, m.Content, m.Source.Platform, m.Source.PlatformID)
}

// HasTag reports whether an identical tag row is already present.
func (m *Message) HasTag(tag []string) bool {
	for _, existing := range m.Tags {
		if tagsEqual(existing, tag) {
			return true
		}
	}
	return false
}

// MergeTags appends tags not already present, preserving order.
// Returns true when anything was added. Existing tags are never removed
// or rewritten; duplicate ingestion is additive only.
func (m *Message) MergeTags(tags [][]string) bool {
	added := false
	for _, tag := range tags {
		if len(tag) == 0 || m.HasTag(tag) {
			continue
		}
		m.Tags = append(m.Tags, tag)
		added = true
	}
	return added
}

func tagsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Identity is one (platform, handle) pair observed for an account.
type Identity struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
	Verified bool   `json:"verified,omitempty"`
}

// Account identifies one person or bot as seen on one platform.
// Accounts are never merged across platforms; the optional DID carries
// portable identity when one is known.
type Account struct {
	ID         string     `json:"id"`
	DID        string     `json:"did,omitempty"`
	Name       string     `json:"name,omitempty"`
	Identities []Identity `json:"identities,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ThreadType classifies a conversation.
type ThreadType string

// Thread types.
const (
	ThreadDM      ThreadType = "dm"
	ThreadGroup   ThreadType = "group"
	ThreadChannel ThreadType = "channel"
	ThreadTopic   ThreadType = "topic"
)

// ThreadSource records where a thread came from.
type ThreadSource struct {
	Platform   string `json:"platform"`
	PlatformID string `json:"platform_id,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
}

// Thread is a conversation. MessageCount always equals the number of
// stored messages whose Refs.ThreadID points here; the normalizer keeps
// it consistent in the same transaction as each insert.
type Thread struct {
	ID            string       `json:"id"`
	Title         string       `json:"title,omitempty"`
	Type          ThreadType   `json:"type"`
	Participants  []string     `json:"participants,omitempty"` // account ids
	Source        ThreadSource `json:"source"`
	CreatedAt     int64        `json:"created_at"` // unix ms
	LastMessageAt int64        `json:"last_message_at,omitempty"`
	MessageCount  int          `json:"message_count"`
}

// phonePlatforms are platforms whose handles are phone numbers.
var phonePlatforms = map[string]bool{
	"signal":   true,
	"whatsapp": true,
}

// NormalizeHandle canonicalizes a handle for account id derivation.
// Phone-based platforms strip the leading +, spaces, and dashes so
// "+1 555-123-4567" and "15551234567" resolve to the same account.
func NormalizeHandle(platform, handle string) string {
	h := strings.ToLower(strings.TrimSpace(handle))
	if phonePlatforms[platform] {
		h = strings.NewReplacer("+", "", " ", "", "-", "").Replace(h)
	}
	return h
}

// AccountID derives the local account id for a (platform, handle) pair.
func AccountID(platform, handle string) string {
	return platform + "_" + NormalizeHandle(platform, handle)
}
