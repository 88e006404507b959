package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/config"
	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/notify"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/state"
)

// fakeAdapter is a scriptable platform. failStart makes every Start
// attempt fail, which with an hour-long test backoff parks the
// platform in recovering for the duration of the test.
type fakeAdapter struct {
	id        string
	failStart bool

	mu     sync.Mutex
	startN int
	stopN  int
	sent   [][2]string
	up     bool

	events chan platform.Event
}

func newFake(id string, failStart bool) *fakeAdapter {
	return &fakeAdapter{id: id, failStart: failStart, events: make(chan platform.Event, 16)}
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) IsAuthenticated(context.Context) bool { return true }

func (f *fakeAdapter) Events() <-chan platform.Event { return f.events }

func (f *fakeAdapter) emit(ev platform.Event) { f.events <- ev }

func (f *fakeAdapter) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startN++
	if f.failStart {
		return errors.New("dial refused")
	}
	f.up = true
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopN++
	f.up = false
	return nil
}

func (f *fakeAdapter) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeAdapter) Stats() platform.Stats {
	return platform.Stats{IsConnected: f.IsConnected()}
}

func (f *fakeAdapter) Send(_ context.Context, target, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, [2]string{target, body})
	return nil
}

func (f *fakeAdapter) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startN
}

// testConfig disables every real platform and slows the recovery and
// health timers past the test horizon so only scripted events move
// the daemon.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Root:       root,
		SocketPath: filepath.Join(root, "d.sock"),
		PIDPath:    filepath.Join(root, "d.pid"),
		Database:   config.DatabaseConfig{Path: filepath.Join(root, "state.db")},
		Daemon: config.DaemonConfig{
			BackoffSeconds: []int{3600},
			MaxAttempts:    3,
		},
		Health: config.HealthConfig{
			CheckIntervalSeconds:  3600,
			StaleThresholdSeconds: 3600,
			ErrorWindowSeconds:    300,
			MaxErrors:             3,
		},
		Notify: config.NotifyConfig{
			LogPath:      filepath.Join(root, "daemon.log"),
			DedupSeconds: 60,
		},
	}
}

func newTestDaemon(t *testing.T, cfg *config.Config, fakes ...*fakeAdapter) *Daemon {
	t.Helper()
	d, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	for _, f := range fakes {
		d.manager.Register(f)
	}
	t.Cleanup(func() { d.Close(context.Background()) })
	return d
}

// notificationLines reads the JSON notification log. Missing file
// means nothing was dispatched yet.
func notificationLines(t *testing.T, path string) []notify.Notification {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []notify.Notification
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var n notify.Notification
		if err := json.Unmarshal(sc.Bytes(), &n); err != nil {
			t.Fatalf("bad notification line %q: %v", sc.Text(), err)
		}
		out = append(out, n)
	}
	return out
}

func errorLinesFor(t *testing.T, path, plat string) []notify.Notification {
	t.Helper()
	var out []notify.Notification
	for _, n := range notificationLines(t, path) {
		if n.Level == notify.LevelError && n.Platform == plat {
			out = append(out, n)
		}
	}
	return out
}

func TestStartRecordsLifecycleRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)

	require.NoError(t, d.Start(ctx))

	run, err := d.lifecycle.LastRun()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), run.PID)
	assert.Nil(t, run.StoppedAt)

	// No platform registered: the daemon idles as stopped.
	st := d.Status()
	assert.Equal(t, StatusStopped, st.Daemon.Status)
	assert.Equal(t, Summary{}, st.Summary)
	assert.NotEmpty(t, st.Daemon.StartedAtISO)

	require.NoError(t, d.Stop(ctx))

	run, err = d.lifecycle.LastRun()
	require.NoError(t, err)
	require.NotNil(t, run.StoppedAt)
	require.NotNil(t, run.CleanShutdown)
	assert.True(t, *run.CleanShutdown)
}

func TestStartTwiceKeepsOneRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p1 := newFake("p1", false)
	d := newTestDaemon(t, cfg, p1)

	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Start(ctx))

	assert.Equal(t, 1, p1.startCount())
}

func TestAllConnectedReportsRunning(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p1 := newFake("p1", false)
	p2 := newFake("p2", false)
	d := newTestDaemon(t, cfg, p1, p2)

	require.NoError(t, d.Start(ctx))

	st := d.Status()
	assert.Equal(t, StatusRunning, st.Daemon.Status)
	assert.Equal(t, Summary{Healthy: 2, Total: 2}, st.Summary)
	require.Len(t, st.Platforms, 2)
	assert.Equal(t, "p1", st.Platforms[0].ID)
	assert.Equal(t, string(state.StatusConnected), st.Platforms[0].Status)

	// Connection state lands in the store once the router sees it.
	require.Eventually(t, func() bool {
		row, err := d.platforms.Get("p1")
		return err == nil && row.Status == state.StatusConnected && row.LastConnected != nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPartialStartReportsDegraded(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p1 := newFake("p1", false)
	p2 := newFake("p2", true)
	d := newTestDaemon(t, cfg, p1, p2)

	require.NoError(t, d.Start(ctx))

	st := d.Status()
	assert.Equal(t, StatusDegraded, st.Daemon.Status)
	assert.Equal(t, Summary{Healthy: 1, Total: 2}, st.Summary)

	// One error notification names the failing platform.
	require.Eventually(t, func() bool {
		return len(errorLinesFor(t, cfg.Notify.LogPath, "p2")) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// The error is persisted against the platform row.
	require.Eventually(t, func() bool {
		row, err := d.platforms.Get("p2")
		return err == nil && row.ErrorCount >= 1 && row.LastError != ""
	}, 3*time.Second, 10*time.Millisecond)

	d.Close(ctx)

	// Still exactly one after shutdown: recovery was an hour away and
	// teardown does not re-announce platform trouble.
	assert.Len(t, errorLinesFor(t, cfg.Notify.LogPath, "p2"), 1)
	for _, n := range errorLinesFor(t, cfg.Notify.LogPath, "p2") {
		assert.Contains(t, n.Platform, "p2")
	}
}

func TestInboundMessageIsIngested(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p1 := newFake("p1", false)
	d := newTestDaemon(t, cfg, p1)

	require.NoError(t, d.Start(ctx))

	p1.emit(platform.Event{Type: platform.EventMessage, Payload: &platform.Payload{
		Kind:       message.KindSignalMessage,
		Author:     message.Author{Name: "Ada", Handle: "+15550001111"},
		Content:    "meet at the observatory tomorrow",
		CreatedAt:  time.Now().UnixMilli(),
		PlatformID: "sig-1",
		Thread:     platform.ThreadHint{ID: "g1", Type: message.ThreadGroup, Title: "astronomy"},
	}})

	var got []*message.Message
	require.Eventually(t, func() bool {
		msgs, err := d.Search("observatory", 10)
		if err != nil || len(msgs) != 1 {
			return false
		}
		got = msgs
		return true
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "meet at the observatory tomorrow", got[0].Content)
	assert.Equal(t, "p1", got[0].Source.Platform)

	require.Eventually(t, func() bool {
		row, err := d.platforms.Get("p1")
		return err == nil && row.MessageCount == 1 && row.LastMessage != nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRestartPlatformUnknown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, newFake("p1", false))

	require.NoError(t, d.Start(ctx))

	err := d.RestartPlatform(ctx, "carrier-pigeon")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPlatformNotFound))
}

func TestSendRequiresConnectedPlatform(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p1 := newFake("p1", false)
	p2 := newFake("p2", true)
	d := newTestDaemon(t, cfg, p1, p2)

	require.NoError(t, d.Start(ctx))

	require.NoError(t, d.Send(ctx, "p1", "+15550002222", "hello"))
	assert.Equal(t, [][2]string{{"+15550002222", "hello"}}, p1.sent)

	assert.Error(t, d.Send(ctx, "p2", "+15550002222", "hello"))
}

func TestStatusUptimeClearsOnStop(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, newFake("p1", false))

	require.NoError(t, d.Start(ctx))
	st := d.Status()
	assert.NotEmpty(t, st.Daemon.StartedAtISO)
	assert.GreaterOrEqual(t, st.Daemon.UptimeSeconds, int64(0))

	require.NoError(t, d.Stop(ctx))
	st = d.Status()
	assert.Equal(t, StatusStopped, st.Daemon.Status)
	assert.Empty(t, st.Daemon.StartedAtISO)
	assert.Zero(t, st.Daemon.UptimeSeconds)
}
