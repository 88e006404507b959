package state

import (
	"encoding/json"
	"testing"

	msgdtest "github.com/teranos/messagesd/internal/testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/messagesd/errors"
)

func TestSyncSaveAndLoad(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewSyncStore(db)

	rec := &SyncRecord{
		ID:        "signal:messages:+15551234567",
		Platform:  "signal",
		Source:    "messages",
		Scope:     "+15551234567",
		Watermark: json.RawMessage(`{"type":"timestamp","timestamp":1700000000000}`),
	}
	require.NoError(t, store.Save(rec))

	loaded, err := store.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, "signal", loaded.Platform)
	assert.Equal(t, "messages", loaded.Source)
	assert.Equal(t, "+15551234567", loaded.Scope)
	assert.JSONEq(t, string(rec.Watermark), string(loaded.Watermark))
	assert.Nil(t, loaded.Metadata)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestSyncSaveOverwritesWatermark(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewSyncStore(db)

	rec := &SyncRecord{
		ID:        "gmail:INBOX:default",
		Platform:  "gmail",
		Source:    "INBOX",
		Scope:     "default",
		Watermark: json.RawMessage(`{"type":"uid","uid":1049,"uid_validity":987}`),
	}
	require.NoError(t, store.Save(rec))

	rec.Watermark = json.RawMessage(`{"type":"uid","uid":1050,"uid_validity":987}`)
	rec.Metadata = json.RawMessage(`{"messages_synced":214}`)
	require.NoError(t, store.Save(rec))

	loaded, err := store.Load(rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"uid","uid":1050,"uid_validity":987}`, string(loaded.Watermark))
	assert.JSONEq(t, `{"messages_synced":214}`, string(loaded.Metadata))
}

func TestSyncLoadNotFound(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewSyncStore(db)

	_, err := store.Load("telegram:updates:default")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSyncDelete(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewSyncStore(db)

	rec := &SyncRecord{
		ID:        "discord:guild_123:chan_9",
		Platform:  "discord",
		Source:    "guild_123",
		Scope:     "chan_9",
		Watermark: json.RawMessage(`{"type":"message_id","message_id":"9000","timestamp":1700000000000}`),
	}
	require.NoError(t, store.Save(rec))
	require.NoError(t, store.Delete(rec.ID))

	_, err := store.Load(rec.ID)
	assert.True(t, errors.IsNotFoundError(err))

	// Deleting an absent row is a no-op
	require.NoError(t, store.Delete(rec.ID))
}

func TestSyncScopedLoads(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewSyncStore(db)

	recs := []*SyncRecord{
		{ID: "gmail:INBOX:default", Platform: "gmail", Source: "INBOX", Scope: "default",
			Watermark: json.RawMessage(`{"type":"uid","uid":10,"uid_validity":1}`)},
		{ID: "gmail:Sent:default", Platform: "gmail", Source: "Sent", Scope: "default",
			Watermark: json.RawMessage(`{"type":"uid","uid":4,"uid_validity":1}`)},
		{ID: "signal:messages:+15551234567", Platform: "signal", Source: "messages", Scope: "+15551234567",
			Watermark: json.RawMessage(`{"type":"timestamp","timestamp":1700000000000}`)},
	}
	for _, rec := range recs {
		require.NoError(t, store.Save(rec))
	}

	byPlatform, err := store.LoadForPlatform("gmail")
	require.NoError(t, err)
	require.Len(t, byPlatform, 2)
	assert.Equal(t, "gmail:INBOX:default", byPlatform[0].ID)
	assert.Equal(t, "gmail:Sent:default", byPlatform[1].ID)

	bySource, err := store.LoadForSource("gmail", "INBOX")
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "default", bySource[0].Scope)

	none, err := store.LoadForPlatform("whatsapp")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSyncSaveStorageError(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewSyncStore(db)
	require.NoError(t, db.Close())

	err := store.Save(&SyncRecord{
		ID:        "signal:messages:default",
		Platform:  "signal",
		Source:    "messages",
		Scope:     "default",
		Watermark: json.RawMessage(`{"type":"timestamp","timestamp":1}`),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}
