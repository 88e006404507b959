package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/ipc"
	"github.com/teranos/messagesd/state"
)

func TestHandleRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, newFake("p1", false))
	require.NoError(t, d.Start(ctx))

	cases := []struct {
		name string
		req  ipc.Request
		want string
	}{
		{"unknown command", ipc.Request{Type: "reboot"}, "unknown command"},
		{"restart-platform without platform", ipc.Request{Type: ipc.CommandRestartPlatform}, "requires a platform"},
		{"send without target", ipc.Request{Type: ipc.CommandSend, Platform: "p1"}, "requires a platform and a target"},
		{"search without query", ipc.Request{Type: ipc.CommandSearch}, "requires a query"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Handle(ctx, tc.req)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tc.want)
		})
	}
}

func TestHandleStatus(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, newFake("p1", false))
	require.NoError(t, d.Start(ctx))

	resp := d.Handle(ctx, ipc.Request{Type: ipc.CommandStatus})
	require.True(t, resp.Success)

	var st StatusResponse
	require.NoError(t, ipc.DecodeData(resp, &st))
	assert.Equal(t, StatusRunning, st.Daemon.Status)
	assert.Equal(t, Summary{Healthy: 1, Total: 1}, st.Summary)
}

func TestHandleSearchEmptyArchive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, newFake("p1", false))
	require.NoError(t, d.Start(ctx))

	resp := d.Handle(ctx, ipc.Request{Type: ipc.CommandSearch, Query: "nothing here"})
	assert.True(t, resp.Success)
}

func TestHandleStopStart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p1 := newFake("p1", false)
	d := newTestDaemon(t, cfg, p1)
	require.NoError(t, d.Start(ctx))

	resp := d.Handle(ctx, ipc.Request{Type: ipc.CommandStop})
	require.True(t, resp.Success)
	assert.Equal(t, StatusStopped, d.Status().Daemon.Status)

	resp = d.Handle(ctx, ipc.Request{Type: ipc.CommandStart})
	require.True(t, resp.Success)
	assert.Equal(t, StatusRunning, d.Status().Daemon.Status)
	assert.Equal(t, 2, p1.startCount())
}

// One connection, two commands, answers in order; the restart is
// visible from a later status on the same connection.
func TestControlSocketDispatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	p1 := newFake("p1", false)
	d := newTestDaemon(t, cfg, p1)
	require.NoError(t, d.Start(ctx))

	srv := ipc.NewServer(cfg.SocketPath, d, zap.NewNop().Sugar())
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	cli, err := ipc.Dial(cfg.SocketPath)
	require.NoError(t, err)
	defer cli.Close()

	resp, err := cli.Do(ipc.Request{Type: ipc.CommandStatus})
	require.NoError(t, err)
	require.True(t, resp.Success)

	resp, err = cli.Do(ipc.Request{Type: ipc.CommandRestartPlatform, Platform: "p1"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "Platform p1 restarted", resp.Data)
	assert.Equal(t, 2, p1.startCount())

	resp, err = cli.Do(ipc.Request{Type: ipc.CommandStatus})
	require.NoError(t, err)
	require.True(t, resp.Success)

	var st StatusResponse
	require.NoError(t, ipc.DecodeData(resp, &st))
	require.Len(t, st.Platforms, 1)
	assert.Equal(t, string(state.StatusConnected), st.Platforms[0].Status)
}
