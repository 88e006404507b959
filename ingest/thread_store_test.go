package ingest

import (
	"testing"

	msgdtest "github.com/teranos/messagesd/internal/testing"
	"github.com/teranos/messagesd/message"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/messagesd/errors"
)

func TestEnsureCreatesOnce(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewThreadStore(db)

	th := &message.Thread{
		ID:        "discord_chan_1",
		Title:     "general",
		Type:      message.ThreadChannel,
		Source:    message.ThreadSource{Platform: "discord", PlatformID: "chan_1"},
		CreatedAt: 1700000000000,
	}

	created, err := store.Ensure(th)
	require.NoError(t, err)
	assert.True(t, created)

	// Re-deriving the same deterministic id must not reset anything
	again := &message.Thread{
		ID:        "discord_chan_1",
		Title:     "renamed",
		Type:      message.ThreadGroup,
		Source:    message.ThreadSource{Platform: "discord"},
		CreatedAt: 1800000000000,
	}
	created, err = store.Ensure(again)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Get("discord_chan_1")
	require.NoError(t, err)
	assert.Equal(t, "general", got.Title)
	assert.Equal(t, message.ThreadChannel, got.Type)
	assert.Equal(t, "chan_1", got.Source.PlatformID)
	assert.Equal(t, int64(1700000000000), got.CreatedAt)
}

func TestEnsureDefaultsToDM(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewThreadStore(db)

	_, err := store.Ensure(&message.Thread{
		ID:        "signal_15550001111",
		Source:    message.ThreadSource{Platform: "signal"},
		CreatedAt: 1700000000000,
	})
	require.NoError(t, err)

	got, err := store.Get("signal_15550001111")
	require.NoError(t, err)
	assert.Equal(t, message.ThreadDM, got.Type)
}

func TestThreadGetNotFound(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewThreadStore(db)

	_, err := store.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestThreadListOrder(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewThreadStore(db)
	messages := NewMessageStore(db)
	accounts := NewAccountStore(db)

	_, err := accounts.Resolve("signal", "+15550001111", "Alice")
	require.NoError(t, err)

	for _, id := range []string{"signal_quiet", "signal_busy"} {
		_, err := store.Ensure(&message.Thread{
			ID:        id,
			Type:      message.ThreadGroup,
			Source:    message.ThreadSource{Platform: "signal"},
			CreatedAt: 1700000000000,
		})
		require.NoError(t, err)
	}

	for _, row := range []struct {
		thread     string
		createdAt  int64
		platformID string
	}{
		{"signal_quiet", 1000, "ord-a"},
		{"signal_busy", 2000, "ord-b"},
	} {
		m := testMessage("msg", row.createdAt, row.platformID)
		m.Refs.ThreadID = row.thread
		m.ID = m.ComputeID()
		_, err := messages.Upsert(m)
		require.NoError(t, err)
	}

	threads, err := store.List("signal", 10)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "signal_busy", threads[0].ID)
	assert.Equal(t, "signal_quiet", threads[1].ID)

	none, err := store.List("whatsapp", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAddParticipantIdempotent(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewThreadStore(db)
	accounts := NewAccountStore(db)

	acctID, err := accounts.Resolve("signal", "+15550001111", "Alice")
	require.NoError(t, err)

	_, err = store.Ensure(&message.Thread{
		ID:        "signal_group",
		Type:      message.ThreadGroup,
		Source:    message.ThreadSource{Platform: "signal"},
		CreatedAt: 1700000000000,
	})
	require.NoError(t, err)

	require.NoError(t, store.AddParticipant("signal_group", acctID))
	require.NoError(t, store.AddParticipant("signal_group", acctID))

	got, err := store.Get("signal_group")
	require.NoError(t, err)
	assert.Equal(t, []string{acctID}, got.Participants)
}
