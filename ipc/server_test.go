package ipc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/messagesd/errors"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req Request) Response {
		switch req.Type {
		case CommandStatus:
			return OK(map[string]string{"state": "running"})
		case CommandRestartPlatform:
			if req.Platform == "" {
				return Failf("platform required")
			}
			return OK(fmt.Sprintf("Platform %s restarted", req.Platform))
		case "echo":
			return OK(req.Body)
		default:
			return Failf("unknown command: %s", req.Type)
		}
	})
}

func startServer(t *testing.T, h Handler) (string, *Server) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(path, h, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return path, srv
}

func TestCommandsOnOneConnectionAnswerInOrder(t *testing.T) {
	path, _ := startServer(t, echoHandler())

	client, err := Dial(path)
	require.NoError(t, err)
	defer client.Close()

	first, err := client.Do(Request{Type: CommandStatus})
	require.NoError(t, err)
	require.True(t, first.Success)
	data, ok := first.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "running", data["state"])

	second, err := client.Do(Request{Type: CommandRestartPlatform, Platform: "signal"})
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, "Platform signal restarted", second.Data)
}

func TestMalformedLineKeepsConnectionOpen(t *testing.T) {
	path, _ := startServer(t, echoHandler())

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"success":false`)

	// The connection survives for the next, valid command.
	_, err = conn.Write([]byte(`{"type":"status"}` + "\n"))
	require.NoError(t, err)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"success":true`)
}

func TestStaleSocketCleanedOnStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.sock")

	// Leave a bound but dead socket file behind, the way a killed
	// daemon would.
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	_, err = os.Stat(path)
	require.NoError(t, err, "stale socket file should exist")

	srv := NewServer(path, echoHandler(), nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	client, err := Dial(path)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Command(CommandStatus)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestStartRefusesLiveSocket(t *testing.T) {
	path, _ := startServer(t, echoHandler())

	second := NewServer(path, echoHandler(), nil)
	err := second.Start()
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyRunning(err))
}

func TestFirstCommandIsNeverRateLimited(t *testing.T) {
	path, _ := startServer(t, echoHandler())

	// Fresh connections each get a full budget.
	for i := 0; i < 3; i++ {
		client, err := Dial(path)
		require.NoError(t, err)
		resp, err := client.Command(CommandStatus)
		require.NoError(t, err)
		assert.True(t, resp.Success, "first command on connection %d", i)
		client.Close()
	}
}

func TestFloodGetsRateLimited(t *testing.T) {
	path, _ := startServer(t, echoHandler())

	client, err := Dial(path)
	require.NoError(t, err)
	defer client.Close()

	var limited int
	for i := 0; i < connBurst*3; i++ {
		resp, err := client.Command(CommandStatus)
		require.NoError(t, err)
		if !resp.Success && resp.Error == "rate limited" {
			limited++
		}
	}
	assert.Greater(t, limited, 0, "expected the flood to hit the limiter")
}

func TestHandlerContextCarriesBudget(t *testing.T) {
	deadlines := make(chan time.Duration, 1)
	h := HandlerFunc(func(ctx context.Context, req Request) Response {
		if d, ok := ctx.Deadline(); ok {
			deadlines <- time.Until(d)
		}
		return OK(nil)
	})
	path, _ := startServer(t, h)

	client, err := Dial(path)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Command(CommandStatus)
	require.NoError(t, err)

	select {
	case d := <-deadlines:
		assert.InDelta(t, handlerTimeout.Seconds(), d.Seconds(), 2.0)
	default:
		t.Fatal("handler saw no deadline")
	}
}

func TestUnknownCommandAnswersWithError(t *testing.T) {
	path, _ := startServer(t, echoHandler())

	client, err := Dial(path)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Command("bogus")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestConcurrentConnectionsDoNotCross(t *testing.T) {
	path, _ := startServer(t, echoHandler())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			client, err := Dial(path)
			if !assert.NoError(t, err) {
				return
			}
			defer client.Close()
			body := fmt.Sprintf("conn-%d", id)
			for j := 0; j < 5; j++ {
				resp, err := client.Do(Request{Type: "echo", Body: body})
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, body, resp.Data)
			}
		}(i)
	}
	wg.Wait()
}

func TestStopClosesConnectionsAndAllowsRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(path, echoHandler(), nil)
	require.NoError(t, srv.Start())

	client, err := Dial(path)
	require.NoError(t, err)
	defer client.Close()

	srv.Stop()
	srv.Stop() // idempotent

	_, err = client.Command(CommandStatus)
	require.Error(t, err, "connection should be gone after Stop")

	// The path is free again for the next daemon run.
	require.NoError(t, srv.Start())
	defer srv.Stop()

	fresh, err := Dial(path)
	require.NoError(t, err)
	defer fresh.Close()
	resp, err := fresh.Command(CommandStatus)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestDialWithoutDaemon(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "absent.sock"))
	require.Error(t, err)
	assert.True(t, errors.IsDaemonNotRunning(err))
}

func TestDecodeDataRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	resp := OK(payload{Name: "signal", Count: 3})

	var out payload
	require.NoError(t, DecodeData(resp, &out))
	assert.Equal(t, payload{Name: "signal", Count: 3}, out)
}
