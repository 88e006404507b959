// Package notify fans lifecycle and error events out to the daemon's
// notification log and, optionally, a desktop notifier. Emission is
// non-blocking: callers enqueue, a single writer appends. Repeats of
// the same notification inside the dedup window are dropped.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Level grades a notification.
type Level string

// Notification levels.
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Defaults for the dispatcher knobs.
const (
	DefaultMaxLogSize     = 10 << 20
	DefaultDedupWindow    = 60 * time.Second
	DefaultQueueSize      = 64
	DefaultDesktopCommand = "notify-send"
)

// Notification is one logged event. Timestamp is RFC 3339.
type Notification struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     Level  `json:"level"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Platform  string `json:"platform,omitempty"`
}

// Config holds the dispatcher settings.
type Config struct {
	// LogPath is the notification log file.
	LogPath string

	// MaxLogSize rotates the log to <path>.old once reached.
	MaxLogSize int64

	// DedupWindow drops repeats keyed (level, title, platform).
	DedupWindow time.Duration

	// Desktop enables the desktop notifier command.
	Desktop bool

	// DesktopCommand is the shell-quoted command template; title and
	// body are appended as the final two arguments.
	DesktopCommand string

	QueueSize int
}

// DefaultConfig returns the stock dispatcher settings for root.
func DefaultConfig(root string) Config {
	return Config{
		LogPath:        filepath.Join(root, "logging", "daemon.log"),
		MaxLogSize:     DefaultMaxLogSize,
		DedupWindow:    DefaultDedupWindow,
		DesktopCommand: DefaultDesktopCommand,
		QueueSize:      DefaultQueueSize,
	}
}

type dedupKey struct {
	level    Level
	title    string
	platform string
}

// Dispatcher queues notifications and writes them from one goroutine.
type Dispatcher struct {
	cfg    Config
	logger *zap.SugaredLogger
	queue  chan Notification
	wg     sync.WaitGroup

	mu       sync.Mutex
	lastSent map[dedupKey]time.Time
	closed   bool
	dropped  int
}

// NewDispatcher creates the dispatcher and starts its writer.
func NewDispatcher(cfg Config, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.MaxLogSize <= 0 {
		cfg.MaxLogSize = DefaultMaxLogSize
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DesktopCommand == "" {
		cfg.DesktopCommand = DefaultDesktopCommand
	}

	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan Notification, cfg.QueueSize),
		lastSent: make(map[dedupKey]time.Time),
	}

	if dir := filepath.Dir(cfg.LogPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warnw("Notification log directory not created", "dir", dir, "error", err)
		}
	}

	d.wg.Add(1)
	go d.writer()
	return d
}

// Info enqueues an info notification.
func (d *Dispatcher) Info(title, body, platform string) {
	d.Notify(LevelInfo, title, body, platform)
}

// Warning enqueues a warning notification.
func (d *Dispatcher) Warning(title, body, platform string) {
	d.Notify(LevelWarning, title, body, platform)
}

// Error enqueues an error notification.
func (d *Dispatcher) Error(title, body, platform string) {
	d.Notify(LevelError, title, body, platform)
}

// Notify enqueues one notification. It never blocks: repeats inside
// the dedup window and overflow beyond the queue depth are dropped.
func (d *Dispatcher) Notify(level Level, title, body, platform string) {
	now := time.Now()
	key := dedupKey{level: level, title: title, platform: platform}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cfg.DedupWindow {
		return
	}
	d.lastSent[key] = now

	n := Notification{
		ID:        ulid.Make().String(),
		Timestamp: now.UTC().Format(time.RFC3339),
		Level:     level,
		Title:     title,
		Body:      body,
		Platform:  platform,
	}

	// The enqueue stays under the lock so Close cannot close the queue
	// between the closed check and the send.
	select {
	case d.queue <- n:
	default:
		d.dropped++
		d.logger.Warnw("Notification queue full, dropping", "title", title)
	}
}

// Close flushes queued notifications and stops the writer.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) writer() {
	defer d.wg.Done()
	for n := range d.queue {
		d.writeLine(n)
		if d.cfg.Desktop {
			d.desktop(n)
		}
	}
}

// writeLine appends one JSON line, rotating first when the log is
// full. Any failure falls back to stderr so the event is not lost.
func (d *Dispatcher) writeLine(n Notification) {
	line, err := json.Marshal(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notify: %s [%s] %s: %s\n", n.Timestamp, n.Level, n.Title, n.Body)
		return
	}
	line = append(line, '\n')

	d.rotateIfFull()

	f, err := os.OpenFile(d.cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		os.Stderr.Write(line)
		return
	}
	_, werr := f.Write(line)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Stderr.Write(line)
	}
}

func (d *Dispatcher) rotateIfFull() {
	fi, err := os.Stat(d.cfg.LogPath)
	if err != nil || fi.Size() < d.cfg.MaxLogSize {
		return
	}
	if err := os.Rename(d.cfg.LogPath, d.cfg.LogPath+".old"); err != nil {
		d.logger.Warnw("Notification log rotation failed", "error", err)
	}
}

// desktop invokes the configured notifier with title and body
// appended. Failures are logged and otherwise ignored.
func (d *Dispatcher) desktop(n Notification) {
	args, err := shellquote.Split(d.cfg.DesktopCommand)
	if err != nil || len(args) == 0 {
		d.logger.Warnw("Desktop command unparseable", "command", d.cfg.DesktopCommand, "error", err)
		return
	}
	cmd := exec.Command(args[0], append(args[1:], n.Title, n.Body)...)
	if err := cmd.Run(); err != nil {
		d.logger.Debugw("Desktop notification failed", "command", args[0], "error", err)
	}
}
