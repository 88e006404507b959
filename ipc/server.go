package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/messagesd/errors"
)

const (
	// handlerTimeout bounds one command's execution on the server.
	handlerTimeout = 30 * time.Second

	// probeTimeout bounds the liveness probe against a leftover socket.
	probeTimeout = time.Second

	// writeTimeout bounds one response write so a stuck client cannot
	// pin a connection goroutine.
	writeTimeout = 30 * time.Second

	// maxLineBytes caps one request line.
	maxLineBytes = 1 << 20

	// Per-connection command budget. The bucket starts full, so the
	// first command on a connection is always admitted.
	connRatePerSecond = 10
	connBurst         = 10
)

// Server accepts control connections on a unix socket and routes each
// request line to the handler. Protocol errors answer on the wire and
// are otherwise swallowed; the server itself never goes down with a
// client.
type Server struct {
	path    string
	handler Handler
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a server for the given socket path.
func NewServer(path string, handler Handler, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		path:    path,
		handler: handler,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and begins accepting. A leftover socket file
// from a dead daemon is removed; a live one refuses the start.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	if err := s.cleanStaleSocket(); err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create socket directory %s", dir)
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.path)
	}
	// Control socket carries message content; owner only.
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return errors.Wrapf(err, "chmod %s", s.path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)

	s.logger.Infow("IPC server listening", "socket", s.path)
	return nil
}

// Stop closes the listener and every open connection, then waits for
// the connection goroutines.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.listener
	cancel := s.cancel
	s.listener = nil
	s.cancel = nil
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if ln == nil {
		return
	}
	cancel()
	ln.Close()
	s.wg.Wait()
	s.logger.Infow("IPC server stopped", "socket", s.path)
}

// cleanStaleSocket probes an existing socket file. A responding daemon
// means another instance is running; a dead file is removed.
func (s *Server) cleanStaleSocket() error {
	if _, err := os.Stat(s.path); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.path, probeTimeout)
	if err == nil {
		conn.Close()
		return errors.Wrapf(errors.ErrAlreadyRunning, "socket %s is live", s.path)
	}
	if err := os.Remove(s.path); err != nil {
		return errors.Wrapf(err, "remove stale socket %s", s.path)
	}
	s.logger.Infow("Removed stale socket", "socket", s.path)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient accept failures must not kill the daemon's
			// control surface.
			s.logger.Warnw("IPC accept failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	limiter := rate.NewLimiter(rate.Limit(connRatePerSecond), connBurst)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()

		if !limiter.Allow() {
			if err := s.respond(conn, Failf("rate limited")); err != nil {
				return
			}
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Debugw("Malformed IPC request",
				"error", errors.Mark(err, errors.ErrIPC))
			if err := s.respond(conn, Failf("invalid request: not a JSON object")); err != nil {
				return
			}
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := s.respond(conn, resp); err != nil {
			return
		}
	}
	// Scanner errors cover oversized lines and reads racing Stop;
	// either way the connection is done.
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	start := time.Now()
	resp := s.handler.Handle(hctx, req)
	s.logger.Debugw("IPC command handled",
		"type", req.Type,
		"success", resp.Success,
		"duration", time.Since(start))
	return resp
}

func (s *Server) respond(conn net.Conn, resp Response) error {
	out, err := json.Marshal(resp)
	if err != nil {
		// The response payload did not serialize; degrade rather than
		// leaving the client without an answer line.
		out = []byte(`{"success":false,"error":"response serialization failed"}`)
		s.logger.Errorw("IPC response marshal failed", "error", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(append(out, '\n')); err != nil {
		s.logger.Debugw("IPC response write failed", "error", err)
		return err
	}
	return nil
}
