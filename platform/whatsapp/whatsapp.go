// Package whatsapp streams messages from a WhatsApp Web bridge over a
// WebSocket. The bridge process owns the WhatsApp session; this adapter
// speaks its JSON event protocol, relays pairing QR codes, and rides
// out bridge restarts with its own capped backoff before handing the
// outage to the platform manager.
package whatsapp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/syncstate"
)

const (
	// DefaultBridgeURL is where the bridge listens by default.
	DefaultBridgeURL = "ws://127.0.0.1:8466/ws"

	defaultReconnectBase = time.Second
	defaultReconnectMax  = 60 * time.Second
	defaultLocalRetries  = 5
	defaultQRTimeout     = 60 * time.Second

	handshakeTimeout = 10 * time.Second

	stateFile = "whatsapp-state.json"
)

// Config holds the whatsapp adapter settings.
type Config struct {
	// BridgeURL is the bridge's WebSocket endpoint.
	BridgeURL string

	// Session scopes the sync watermark; one bridge is one session.
	Session string

	// StateDir is where the pairing snapshot lands. Empty disables it.
	StateDir string

	// ReconnectBase and ReconnectMax bound the adapter's own redial
	// backoff; LocalRetries is how many consecutive failures it absorbs
	// before surfacing the outage.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	LocalRetries  int
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		BridgeURL:     DefaultBridgeURL,
		Session:       "default",
		ReconnectBase: defaultReconnectBase,
		ReconnectMax:  defaultReconnectMax,
		LocalRetries:  defaultLocalRetries,
	}
}

// Conn is the narrow WebSocket surface the adapter needs. The real
// implementation wraps gorilla/websocket; tests use channel fakes.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

type gorillaConn struct {
	ws *websocket.Conn
}

func (c *gorillaConn) ReadJSON(v interface{}) error  { return c.ws.ReadJSON(v) }
func (c *gorillaConn) WriteJSON(v interface{}) error { return c.ws.WriteJSON(v) }
func (c *gorillaConn) Close() error                  { return c.ws.Close() }

func dialBridge(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{ws: ws}, nil
}

// Adapter bridges one WhatsApp session.
type Adapter struct {
	*platform.Emitter

	cfg    Config
	dial   func(ctx context.Context, url string) (Conn, error)
	logger *zap.SugaredLogger

	mu     sync.Mutex
	conn   Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the adapter.
func New(cfg Config, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.BridgeURL == "" {
		cfg.BridgeURL = DefaultBridgeURL
	}
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.LocalRetries <= 0 {
		cfg.LocalRetries = defaultLocalRetries
	}
	return &Adapter{
		Emitter: platform.NewEmitter("whatsapp"),
		cfg:     cfg,
		dial:    dialBridge,
		logger:  logger,
	}
}

func (a *Adapter) ID() string { return "whatsapp" }

// IsAuthenticated reports whether a pairing snapshot exists. A fresh
// install pairs by starting the platform and scanning the QR events.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	if a.cfg.StateDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(a.cfg.StateDir, stateFile))
	return err == nil
}

// Start dials the bridge and begins reading its event stream.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}

	conn, err := a.dial(ctx, a.cfg.BridgeURL)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "dial whatsapp bridge %s", a.cfg.BridgeURL),
			errors.ErrTransientNetwork)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.conn = conn
	a.cancel = cancel

	a.EmitConnected()
	a.logger.Infow("whatsapp bridge connected", "url", a.cfg.BridgeURL)

	a.wg.Add(1)
	go a.readLoop(runCtx, conn)
	return nil
}

// Stop closes the bridge connection and ends the read loop.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	conn := a.conn
	a.cancel = nil
	a.conn = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	if conn != nil {
		conn.Close()
	}
	a.wg.Wait()
	a.SetConnected(false)
	return nil
}

// Send writes one outbound message frame to the bridge.
func (a *Adapter) Send(ctx context.Context, target, body string) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return errors.Wrap(errors.ErrNotConnected, "whatsapp bridge")
	}

	frame := bridgeSend{Type: "send", Target: target, Body: body}
	if err := conn.WriteJSON(frame); err != nil {
		return errors.Wrapf(err, "send to %s", target)
	}
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, conn Conn) {
	defer a.wg.Done()

	for {
		var ev bridgeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return
			}
			conn.Close()

			next, ok := a.redial(ctx)
			if !ok {
				a.giveUp()
				return
			}
			conn = next
			a.swapConn(conn)
			continue
		}

		if !a.handleEvent(&ev) {
			a.giveUp()
			return
		}
	}
}

// redial re-establishes the bridge connection with doubling delays.
// Gives up after LocalRetries consecutive failures; the platform
// manager owns recovery from there.
func (a *Adapter) redial(ctx context.Context) (Conn, bool) {
	delay := a.cfg.ReconnectBase
	for attempt := 1; attempt <= a.cfg.LocalRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		conn, err := a.dial(ctx, a.cfg.BridgeURL)
		if err == nil {
			a.logger.Infow("whatsapp bridge reconnected", "attempt", attempt)
			return conn, true
		}
		a.logger.Warnw("whatsapp bridge redial failed",
			"attempt", attempt,
			"retries", a.cfg.LocalRetries,
			"error", err)

		delay *= 2
		if delay > a.cfg.ReconnectMax {
			delay = a.cfg.ReconnectMax
		}
	}
	return nil, false
}

// giveUp tears the adapter down and surfaces the outage, unless Stop
// already ran.
func (a *Adapter) giveUp() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.conn = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	a.SetConnected(false)
	a.EmitDisconnected()
	a.logger.Warnw("whatsapp bridge lost")
}

func (a *Adapter) swapConn(conn Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

// handleEvent processes one bridge frame. Returns false when the
// session is gone and the loop should end.
func (a *Adapter) handleEvent(ev *bridgeEvent) bool {
	switch ev.Type {
	case "qr":
		timeout := time.Duration(ev.Timeout) * time.Second
		if timeout <= 0 {
			timeout = defaultQRTimeout
		}
		a.EmitQR(&platform.QRCode{
			Data:      ev.Data,
			ExpiresAt: time.Now().Add(timeout),
		})
		a.logger.Infow("whatsapp pairing code received", "timeout", timeout)

	case "connected":
		a.logger.Infow("whatsapp session active", "phone", ev.Phone)
		if err := a.writeState(ev.Phone); err != nil {
			a.logger.Warnw("pairing snapshot write failed", "error", err)
		}

	case "disconnected":
		a.logger.Warnw("whatsapp session dropped", "reason", ev.Reason)
		return false

	case "message":
		if ev.Message != nil {
			a.EmitMessage(a.payload(ev.Message))
		}

	default:
		a.logger.Debugw("unknown bridge event", "type", ev.Type)
	}
	return true
}

func (a *Adapter) payload(m *bridgeMessage) *platform.Payload {
	threadType := message.ThreadDM
	if m.ChatType == "group" {
		threadType = message.ThreadGroup
	}

	p := &platform.Payload{
		Kind: message.KindWhatsAppMessage,
		Author: message.Author{
			Name:   m.SenderName,
			Handle: m.Sender,
		},
		Content:    m.Text,
		CreatedAt:  m.Timestamp,
		PlatformID: m.ID,
		ReplyTo:    m.QuotedID,
		Thread: platform.ThreadHint{
			ID:    m.ChatID,
			Type:  threadType,
			Title: m.ChatName,
		},
	}

	for _, att := range m.Attachments {
		p.Attachments = append(p.Attachments, platform.Attachment{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.Mime,
			SizeBytes:   att.Size,
		})
	}

	id := syncstate.NewID("whatsapp", a.cfg.Session, "messages")
	wm := syncstate.MessageID(m.ID, m.Timestamp)
	p.SyncID = id.String()
	p.Watermark = &wm
	return p
}

// writeState records the paired phone so IsAuthenticated survives
// restarts.
func (a *Adapter) writeState(phone string) error {
	if a.cfg.StateDir == "" {
		return nil
	}
	if err := os.MkdirAll(a.cfg.StateDir, 0o755); err != nil {
		return errors.Wrap(err, "create state dir")
	}

	raw, err := json.MarshalIndent(map[string]string{
		"phone":        phone,
		"connected_at": time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(a.cfg.StateDir, stateFile), raw, 0o600), "write state")
}
