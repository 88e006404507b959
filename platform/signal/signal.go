// Package signal streams messages from a signal-cli daemon over its
// JSON-RPC socket. The daemon may already be running, or the adapter
// spawns it from a configured command line. Either way signal-cli owns
// the Signal session; this adapter only speaks RPC to it.
package signal

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/syncstate"
)

const (
	// DefaultSocketPath is where signal-cli daemon listens by default.
	DefaultSocketPath = "/run/user/1000/signal-cli/socket"

	// MinDaemonVersion is the oldest signal-cli whose RPC surface we
	// speak. Older daemons frame group ids differently.
	MinDaemonVersion = "0.11.0"

	socketWaitTimeout = 15 * time.Second
	dialTimeout       = 10 * time.Second
)

// Config holds the signal adapter settings.
type Config struct {
	// Account is the E.164 number of the linked signal-cli account.
	Account string

	// SocketPath is the daemon's unix socket.
	SocketPath string

	// DaemonCommand, when set, is the command line used to spawn
	// signal-cli if its socket is absent. Parsed shell-style.
	DaemonCommand string

	// MinVersion overrides the daemon version gate.
	MinVersion string
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath: DefaultSocketPath,
		MinVersion: MinDaemonVersion,
	}
}

func dialUnix(ctx context.Context, socket string) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "unix", socket)
}

// Adapter bridges one signal-cli account.
type Adapter struct {
	*platform.Emitter

	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.Mutex
	rpc     *jsonrpc2.Conn
	helper  *exec.Cmd
	stopped bool
}

// New creates the adapter.
func New(cfg Config, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.MinVersion == "" {
		cfg.MinVersion = MinDaemonVersion
	}
	return &Adapter{
		Emitter: platform.NewEmitter("signal"),
		cfg:     cfg,
		logger:  logger,
	}
}

func (a *Adapter) ID() string { return "signal" }

// IsAuthenticated reports whether an account is configured and the
// daemon is reachable or spawnable. The session itself lives in
// signal-cli's store, so there is nothing stronger to check offline.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	if a.cfg.Account == "" {
		return false
	}
	if _, err := os.Stat(a.cfg.SocketPath); err == nil {
		return true
	}
	return a.cfg.DaemonCommand != ""
}

// Start connects to the daemon, gates on its version, and begins
// receiving. Spawns the daemon first when configured and absent.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rpc != nil {
		return nil
	}
	a.stopped = false

	if err := a.ensureDaemonLocked(ctx); err != nil {
		return err
	}

	conn, err := dialUnix(ctx, a.cfg.SocketPath)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "dial signal-cli socket %s", a.cfg.SocketPath),
			errors.ErrTransientNetwork)
	}

	stream := jsonrpc2.NewBufferedStream(conn, jsonrpc2.PlainObjectCodec{})
	rpc := jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(a.handle))

	if err := a.checkVersion(ctx, rpc); err != nil {
		rpc.Close()
		return err
	}

	a.rpc = rpc
	go a.watchDisconnect(rpc)

	a.EmitConnected()
	a.logger.Infow("signal-cli connected",
		"account", a.cfg.Account,
		"socket", a.cfg.SocketPath)
	return nil
}

// Stop closes the RPC connection and terminates a spawned daemon.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	rpc := a.rpc
	helper := a.helper
	a.rpc = nil
	a.helper = nil
	a.stopped = true
	a.mu.Unlock()

	if rpc != nil {
		rpc.Close()
	}
	if helper != nil && helper.Process != nil {
		if err := helper.Process.Signal(syscall.SIGTERM); err != nil {
			a.logger.Warnw("signal-cli terminate failed", "error", err)
		}
	}
	a.SetConnected(false)
	return nil
}

// Send delivers body to a phone number or, for base64 group ids, to the
// group.
func (a *Adapter) Send(ctx context.Context, target, body string) error {
	a.mu.Lock()
	rpc := a.rpc
	a.mu.Unlock()
	if rpc == nil {
		return errors.Wrap(errors.ErrNotConnected, "signal-cli")
	}

	params := map[string]interface{}{
		"account": a.cfg.Account,
		"message": body,
	}
	if strings.HasPrefix(target, "+") {
		params["recipient"] = []string{target}
	} else {
		params["groupId"] = target
	}

	var res struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := rpc.Call(ctx, "send", params, &res); err != nil {
		return errors.Wrapf(err, "send to %s", target)
	}
	return nil
}

// ensureDaemonLocked spawns signal-cli when the socket is absent and a
// command is configured, then waits for the socket to appear.
func (a *Adapter) ensureDaemonLocked(ctx context.Context) error {
	if _, err := os.Stat(a.cfg.SocketPath); err == nil {
		return nil
	}
	if a.cfg.DaemonCommand == "" {
		return nil
	}

	argv, err := shellquote.Split(a.cfg.DaemonCommand)
	if err != nil {
		return errors.Wrap(err, "parse daemon command")
	}
	if len(argv) == 0 {
		return errors.New("daemon command is empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "spawn %s", argv[0])
	}
	a.helper = cmd
	a.logger.Infow("signal-cli spawned", "pid", cmd.Process.Pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			a.logger.Warnw("signal-cli exited", "error", err)
		}
	}()

	deadline := time.Now().Add(socketWaitTimeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(a.cfg.SocketPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for signal-cli socket")
		case <-time.After(200 * time.Millisecond):
		}
	}
	return errors.Newf("signal-cli socket %s did not appear within %s",
		a.cfg.SocketPath, socketWaitTimeout)
}

// checkVersion rejects daemons older than the configured minimum.
func (a *Adapter) checkVersion(ctx context.Context, rpc *jsonrpc2.Conn) error {
	var res struct {
		Version string `json:"version"`
	}
	if err := rpc.Call(ctx, "version", nil, &res); err != nil {
		return errors.Wrap(err, "query signal-cli version")
	}

	v, err := semver.NewVersion(res.Version)
	if err != nil {
		return errors.Wrapf(err, "unparseable signal-cli version %q", res.Version)
	}
	gate, err := semver.NewConstraint(">= " + a.cfg.MinVersion)
	if err != nil {
		return errors.Wrapf(err, "bad version gate %q", a.cfg.MinVersion)
	}
	if !gate.Check(v) {
		return errors.Newf("signal-cli %s is older than required %s", res.Version, a.cfg.MinVersion)
	}
	return nil
}

func (a *Adapter) watchDisconnect(rpc *jsonrpc2.Conn) {
	<-rpc.DisconnectNotify()

	a.mu.Lock()
	active := a.rpc == rpc && !a.stopped
	if active {
		a.rpc = nil
	}
	a.mu.Unlock()
	if !active {
		return
	}

	a.SetConnected(false)
	a.EmitDisconnected()
	a.logger.Warnw("signal-cli connection lost", "account", a.cfg.Account)
}

// handle processes daemon notifications. Only receive envelopes carry
// messages; receipts and typing indicators are dropped.
func (a *Adapter) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	if req.Method != "receive" {
		if req.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "method not handled: " + req.Method,
		}
	}
	if req.Params == nil {
		return nil, nil
	}

	var note receiveNote
	if err := json.Unmarshal(*req.Params, &note); err != nil {
		a.logger.Warnw("undecodable receive envelope", "error", err)
		return nil, nil
	}

	env := note.Envelope
	if env.DataMessage == nil || env.DataMessage.Message == "" {
		return nil, nil
	}

	a.EmitMessage(a.payload(env))
	return nil, nil
}

func (a *Adapter) payload(env envelope) *platform.Payload {
	dm := env.DataMessage
	ts := env.Timestamp
	if ts == 0 {
		ts = dm.Timestamp
	}

	p := &platform.Payload{
		Kind: message.KindSignalMessage,
		Author: message.Author{
			Name:   env.SourceName,
			Handle: env.SourceNumber,
		},
		Content:    dm.Message,
		CreatedAt:  ts,
		PlatformID: strconv.FormatInt(ts, 10),
	}
	if p.Author.Handle == "" {
		p.Author.Handle = env.Source
	}

	if dm.GroupInfo != nil && dm.GroupInfo.GroupID != "" {
		p.Thread = platform.ThreadHint{
			ID:   dm.GroupInfo.GroupID,
			Type: message.ThreadGroup,
		}
	}

	if dm.Quote != nil && dm.Quote.ID != 0 {
		p.ReplyTo = strconv.FormatInt(dm.Quote.ID, 10)
	}
	for _, m := range dm.Mentions {
		if m.Number != "" {
			p.Mentions = append(p.Mentions, m.Number)
		}
	}

	id := syncstate.NewID("signal", a.cfg.Account, "messages")
	wm := syncstate.Timestamp(ts)
	p.SyncID = id.String()
	p.Watermark = &wm
	return p
}
