package state

import (
	"os"
	"testing"

	msgdtest "github.com/teranos/messagesd/internal/testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/messagesd/errors"
)

func TestRecordStart(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewLifecycleStore(db)

	runID, err := store.RecordStart(os.Getpid(), "0.2.0")
	require.NoError(t, err)
	assert.Len(t, runID, 26) // ULID

	run, err := store.LastRun()
	require.NoError(t, err)
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, os.Getpid(), run.PID)
	assert.Equal(t, "0.2.0", run.Version)
	assert.False(t, run.StartedAt.IsZero())

	// A live run has no shutdown record yet
	assert.Nil(t, run.StoppedAt)
	assert.Nil(t, run.CleanShutdown)
}

func TestLastRunReturnsMostRecent(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewLifecycleStore(db)

	_, err := store.RecordStart(1001, "0.1.0")
	require.NoError(t, err)

	second, err := store.RecordStart(1002, "0.2.0")
	require.NoError(t, err)

	run, err := store.LastRun()
	require.NoError(t, err)
	assert.Equal(t, second, run.RunID)
	assert.Equal(t, 1002, run.PID)
}

func TestRecordShutdown(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewLifecycleStore(db)

	t.Run("clean shutdown", func(t *testing.T) {
		runID, err := store.RecordStart(os.Getpid(), "0.2.0")
		require.NoError(t, err)

		err = store.RecordShutdown(runID, true)
		require.NoError(t, err)

		run, err := store.LastRun()
		require.NoError(t, err)
		require.NotNil(t, run.StoppedAt)
		require.NotNil(t, run.CleanShutdown)
		assert.True(t, *run.CleanShutdown)
	})

	t.Run("fault shutdown", func(t *testing.T) {
		runID, err := store.RecordStart(os.Getpid(), "0.2.0")
		require.NoError(t, err)

		err = store.RecordShutdown(runID, false)
		require.NoError(t, err)

		run, err := store.LastRun()
		require.NoError(t, err)
		require.NotNil(t, run.CleanShutdown)
		assert.False(t, *run.CleanShutdown)
	})

	t.Run("unknown run", func(t *testing.T) {
		err := store.RecordShutdown("01ARZ3NDEKTSV4RRFFQ69G5FAV", true)
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})
}

func TestLastRunEmptyTable(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewLifecycleStore(db)

	_, err := store.LastRun()
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

// A run that never got a shutdown record is how the daemon detects a
// crash: started_at present, stopped_at and clean_shutdown both NULL.
func TestCrashDetection(t *testing.T) {
	db := msgdtest.CreateMigratedTestDB(t)
	store := NewLifecycleStore(db)

	_, err := store.RecordStart(4242, "0.2.0")
	require.NoError(t, err)

	// New process starts and inspects the previous run
	run, err := store.LastRun()
	require.NoError(t, err)
	assert.Nil(t, run.StoppedAt)
	assert.Nil(t, run.CleanShutdown)
	assert.Equal(t, 4242, run.PID)
}
