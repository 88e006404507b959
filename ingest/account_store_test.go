package ingest

import (
	"testing"

	msgdtest "github.com/teranos/messagesd/internal/testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/messagesd/errors"
)

func TestResolveCreatesAccount(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewAccountStore(db)

	id, err := store.Resolve("signal", "+1 555 000-1111", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "signal_15550001111", id)

	acct, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", acct.Name)
	assert.False(t, acct.CreatedAt.IsZero())

	idents, err := store.Identities(id)
	require.NoError(t, err)
	require.Len(t, idents, 1)
	assert.Equal(t, "signal", idents[0].Platform)
	assert.Equal(t, "15550001111", idents[0].Handle)
}

func TestResolveReusesAcrossFormats(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewAccountStore(db)

	first, err := store.Resolve("whatsapp", "+15550001111", "")
	require.NoError(t, err)

	second, err := store.Resolve("whatsapp", "+1 555 000 1111", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestResolveSamePersonDifferentPlatforms(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewAccountStore(db)

	signal, err := store.Resolve("signal", "+15550001111", "Alice")
	require.NoError(t, err)
	whatsapp, err := store.Resolve("whatsapp", "+15550001111", "Alice")
	require.NoError(t, err)

	// Accounts are per-platform, never merged
	assert.NotEqual(t, signal, whatsapp)
}

func TestResolveNameFillIn(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewAccountStore(db)

	id, err := store.Resolve("discord", "carol#1234", "")
	require.NoError(t, err)

	// First payload that knows the display name fills it in
	_, err = store.Resolve("discord", "carol#1234", "Carol")
	require.NoError(t, err)

	acct, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Carol", acct.Name)

	// Later names never overwrite
	_, err = store.Resolve("discord", "carol#1234", "Carol Renamed")
	require.NoError(t, err)

	acct, err = store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Carol", acct.Name)
}

func TestResolveEmptyHandle(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewAccountStore(db)

	_, err := store.Resolve("signal", "", "Ghost")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = store.Resolve("signal", "   ", "Ghost")
	require.Error(t, err)
}

func TestAccountGetNotFound(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewAccountStore(db)

	_, err := store.Get("signal_nobody")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
