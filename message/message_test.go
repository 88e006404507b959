package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		handle   string
		want     string
	}{
		{"signal phone with punctuation", "signal", "+1 555-123-4567", "15551234567"},
		{"signal phone already bare", "signal", "15551234567", "15551234567"},
		{"whatsapp phone", "whatsapp", "+49 170 1234567", "491701234567"},
		{"discord handle lowercased", "discord", "SomeUser", "someuser"},
		{"email lowercased, plus kept", "gmail", "Alice+filter@Example.COM", "alice+filter@example.com"},
		{"telegram username", "telegram", "@SomeBot", "@somebot"},
		{"whitespace trimmed", "discord", "  user  ", "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHandle(tt.platform, tt.handle))
		})
	}
}

func TestAccountID(t *testing.T) {
	assert.Equal(t, "signal_15551234567", AccountID("signal", "+1 555-123-4567"))
	assert.Equal(t, "gmail_alice@example.com", AccountID("gmail", "Alice@Example.com"))

	// Formatting variants of the same phone number land on the same account
	assert.Equal(t, AccountID("signal", "+15551234567"), AccountID("signal", "1 555 123 4567"))
}

func TestComputeID(t *testing.T) {
	m := Message{
		Kind:      KindWhatsAppMessage,
		Author:    Author{Handle: "+15550001111"},
		CreatedAt: 1700000000000,
		Content:   "hello",
		Source:    Source{Platform: "whatsapp", PlatformID: "wa-1"},
	}

	id := m.ComputeID()
	assert.Len(t, id, AddressHashLen)

	// Fields outside the canonical tuple do not affect the id
	m2 := m
	m2.Title = "different title"
	m2.ImportedAt = 9999999
	m2.Refs.ThreadID = "some-thread"
	assert.Equal(t, id, m2.ComputeID())

	// Fields inside the tuple do
	m3 := m
	m3.Content = "hello!"
	assert.NotEqual(t, id, m3.ComputeID())
}

func TestMergeTags(t *testing.T) {
	m := Message{Tags: [][]string{{"folder", "INBOX"}}}

	added := m.MergeTags([][]string{{"folder", "INBOX"}, {"starred"}})
	assert.True(t, added)
	assert.Equal(t, [][]string{{"folder", "INBOX"}, {"starred"}}, m.Tags)

	// Re-merging the same tags is a no-op
	added = m.MergeTags([][]string{{"folder", "INBOX"}, {"starred"}})
	assert.False(t, added)
	assert.Len(t, m.Tags, 2)

	// Same key with a new value is additive, never an overwrite
	added = m.MergeTags([][]string{{"folder", "Archive"}})
	assert.True(t, added)
	assert.Equal(t, [][]string{{"folder", "INBOX"}, {"starred"}, {"folder", "Archive"}}, m.Tags)

	// Empty tags are ignored
	added = m.MergeTags([][]string{{}})
	assert.False(t, added)
}

func TestKindRange(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindNote, "core"},
		{99, "core"},
		{KindClaudeSession, "claude"},
		{199, "claude"},
		{KindGitCommit, "git"},
		{249, "git"},
		{KindSignalMessage, "platform"},
		{KindEmailMessage, "platform"},
		{5000, "platform"},
		{250, "unknown"},
		{999, "unknown"},
		{-1, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.Range(), "kind %d", tt.kind)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "signal_message", KindSignalMessage.String())
	assert.Equal(t, "git_commit", KindGitCommit.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
