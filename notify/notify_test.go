package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	return cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestNotificationsAppendAsJSONLines(t *testing.T) {
	cfg := testConfig(t)
	d := NewDispatcher(cfg, nil)

	d.Info("Daemon started", "2 platforms configured", "")
	d.Error("Platform failed", "max recovery attempts reached", "discord")
	d.Close()

	lines := readLines(t, cfg.LogPath)
	require.Len(t, lines, 2)

	var first Notification
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, LevelInfo, first.Level)
	assert.Equal(t, "Daemon started", first.Title)
	assert.Equal(t, "2 platforms configured", first.Body)
	assert.Empty(t, first.Platform)

	_, err := ulid.Parse(first.ID)
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, first.Timestamp)
	require.NoError(t, err)

	// The empty platform is omitted from the line entirely.
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &raw))
	_, has := raw["platform"]
	assert.False(t, has)

	var second Notification
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, LevelError, second.Level)
	assert.Equal(t, "discord", second.Platform)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRepeatsInsideWindowAreDropped(t *testing.T) {
	cfg := testConfig(t)
	d := NewDispatcher(cfg, nil)

	d.Warning("Platform disconnected", "link lost", "signal")
	d.Warning("Platform disconnected", "link lost", "signal")
	d.Warning("Platform disconnected", "link lost", "telegram")
	d.Close()

	lines := readLines(t, cfg.LogPath)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"signal"`)
	assert.Contains(t, lines[1], `"telegram"`)
}

func TestRepeatAllowedAfterWindowExpires(t *testing.T) {
	cfg := testConfig(t)
	cfg.DedupWindow = 30 * time.Millisecond
	d := NewDispatcher(cfg, nil)

	d.Info("Platform connected", "up", "gmail")
	time.Sleep(60 * time.Millisecond)
	d.Info("Platform connected", "up", "gmail")
	d.Close()

	assert.Len(t, readLines(t, cfg.LogPath), 2)
}

func TestLevelIsPartOfTheDedupKey(t *testing.T) {
	cfg := testConfig(t)
	d := NewDispatcher(cfg, nil)

	d.Info("Platform restarted", "", "signal")
	d.Error("Platform restarted", "", "signal")
	d.Close()

	assert.Len(t, readLines(t, cfg.LogPath), 2)
}

func TestFullLogRotatesToOld(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxLogSize = 1
	d := NewDispatcher(cfg, nil)

	d.Info("first", "one", "")
	d.Info("second", "two", "")
	d.Close()

	current := readLines(t, cfg.LogPath)
	require.Len(t, current, 1)
	assert.Contains(t, current[0], `"second"`)

	old := readLines(t, cfg.LogPath+".old")
	require.Len(t, old, 1)
	assert.Contains(t, old[0], `"first"`)
}

func TestDesktopCommandReceivesTitleAndBody(t *testing.T) {
	cfg := testConfig(t)
	out := filepath.Join(t.TempDir(), "desktop.out")
	cfg.Desktop = true
	cfg.DesktopCommand = fmt.Sprintf("sh -c 'printf %%s=%%s \"$0\" \"$1\" > %s'", out)
	d := NewDispatcher(cfg, nil)

	d.Info("Platform connected", "signal is back", "signal")
	d.Close()

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "Platform connected=signal is back", string(b))
}

func TestUnwritableLogFallsBackWithoutBlocking(t *testing.T) {
	cfg := testConfig(t)
	// A directory at the log path makes every append fail.
	require.NoError(t, os.MkdirAll(cfg.LogPath, 0o755))
	d := NewDispatcher(cfg, nil)

	d.Error("Storage trouble", "disk said no", "")
	d.Close()
}

func TestCloseIsIdempotentAndNotifyAfterCloseIsSafe(t *testing.T) {
	cfg := testConfig(t)
	d := NewDispatcher(cfg, nil)
	d.Info("only", "line", "")
	d.Close()
	d.Close()
	d.Info("late", "ignored", "")

	assert.Len(t, readLines(t, cfg.LogPath), 1)
}
