package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentAddress(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		a := ContentAddress(KindSignalMessage, "+15550001111", 1700000000000, "hello", "signal", "msg-1")
		b := ContentAddress(KindSignalMessage, "+15550001111", 1700000000000, "hello", "signal", "msg-1")
		assert.Equal(t, a, b)
	})

	t.Run("matches the frozen tuple serialization", func(t *testing.T) {
		// sha256 of [1000,"+15550001111",1700000000000,"hello","signal","msg-1"]
		id := ContentAddress(KindSignalMessage, "+15550001111", 1700000000000, "hello", "signal", "msg-1")
		assert.Equal(t, "5879add04e91fe40", id)
	})

	t.Run("every field participates", func(t *testing.T) {
		base := ContentAddress(KindSignalMessage, "h", 1, "c", "p", "pid")

		assert.NotEqual(t, base, ContentAddress(KindWhatsAppMessage, "h", 1, "c", "p", "pid"))
		assert.NotEqual(t, base, ContentAddress(KindSignalMessage, "h2", 1, "c", "p", "pid"))
		assert.NotEqual(t, base, ContentAddress(KindSignalMessage, "h", 2, "c", "p", "pid"))
		assert.NotEqual(t, base, ContentAddress(KindSignalMessage, "h", 1, "c2", "p", "pid"))
		assert.NotEqual(t, base, ContentAddress(KindSignalMessage, "h", 1, "c", "p2", "pid"))
		assert.NotEqual(t, base, ContentAddress(KindSignalMessage, "h", 1, "c", "p", "pid2"))
	})

	t.Run("has fixed length", func(t *testing.T) {
		id := ContentAddress(KindNote, "", 0, "", "", "")
		require.Len(t, id, AddressHashLen)
		for _, c := range id {
			assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'), "id must be lowercase hex, got %q", id)
		}
	})
}

func TestHashPrefix(t *testing.T) {
	// Frozen: email thread ids embed this prefix, so neither the
	// algorithm nor the truncation length may change.
	assert.Equal(t, "79baa4529ab1d2f0", HashPrefix("<a@x>"))
	assert.Len(t, HashPrefix("anything"), AddressHashLen)
	assert.NotEqual(t, HashPrefix("a"), HashPrefix("b"))
}
