package platform

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/state"
)

// DefaultPriority is the startup order, most reliable platform first.
// Shutdown traverses it in reverse. Registered platforms not on the
// list start after the listed ones.
var DefaultPriority = []string{"signal", "whatsapp", "discord", "telegram", "gmail", "gitlog"}

// DefaultBackoff is the recovery schedule. Attempt n waits
// backoff[min(n, len-1)], so the last entry repeats.
var DefaultBackoff = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
}

// DefaultMaxAttempts is how many recovery attempts run before a
// platform is declared failed.
const DefaultMaxAttempts = 5

// errorRingSize bounds the per-platform error timestamp history kept
// for the health monitor's recent-error window.
const errorRingSize = 32

// ManagerConfig tunes startup order and recovery behavior.
type ManagerConfig struct {
	Priority    []string
	Backoff     []time.Duration
	MaxAttempts int
}

// DefaultManagerConfig returns the stock priority list and backoff
// schedule.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Priority:    DefaultPriority,
		Backoff:     DefaultBackoff,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (c ManagerConfig) delay(attempt int) time.Duration {
	return c.Backoff[min(attempt, len(c.Backoff)-1)]
}

// BusKind discriminates manager bus events.
type BusKind string

// Bus event kinds.
const (
	BusStarting     BusKind = "platform:starting"
	BusConnected    BusKind = "platform:connected"
	BusDisconnected BusKind = "platform:disconnected"
	BusError        BusKind = "platform:error"
	BusMessage      BusKind = "platform:message"
	BusRecovering   BusKind = "platform:recovering"
	BusFailed       BusKind = "platform:failed"
	BusQR           BusKind = "platform:qr"
)

// BusEvent is one emission on the manager's bus. Status is the
// platform's status after the transition the event reports. Attempt
// and Delay are set for BusRecovering, Payload for BusMessage, Err for
// BusError and BusFailed, QR for BusQR.
type BusEvent struct {
	Kind     BusKind
	Platform string
	Status   state.PlatformStatus
	Err      error
	Attempt  int
	Delay    time.Duration
	Payload  *Payload
	QR       *QRCode
}

// Snapshot is the manager's live view of one platform.
type Snapshot struct {
	Platform      string               `json:"platform"`
	Status        state.PlatformStatus `json:"status"`
	Attempts      int                  `json:"reconnect_attempts"`
	LastError     string               `json:"last_error,omitempty"`
	LastConnected time.Time            `json:"last_connected"`
	LastMessage   time.Time            `json:"last_message"`
	Stats         Stats                `json:"stats"`
}

// runtime is the manager-owned state for one adapter. All fields are
// guarded by the manager mutex.
type runtime struct {
	status        state.PlatformStatus
	attempts      int
	failed        bool
	lastError     string
	lastConnected time.Time
	lastMessage   time.Time
	errorTimes    []time.Time
	timer         *time.Timer
}

func (rt *runtime) recordError(msg string, at time.Time) {
	rt.lastError = msg
	rt.errorTimes = append(rt.errorTimes, at)
	if len(rt.errorTimes) > errorRingSize {
		rt.errorTimes = rt.errorTimes[len(rt.errorTimes)-errorRingSize:]
	}
}

func (rt *runtime) cancelTimer() {
	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
}

// Manager runs the registered adapters: priority-ordered startup,
// reverse-order shutdown, and recovery timers with the configured
// backoff schedule. Status transitions for one platform are
// serialized; the bus delivers events in issue order.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.SugaredLogger

	mu       sync.Mutex
	adapters map[string]Adapter
	runtimes map[string]*runtime

	bus       chan BusEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a manager with no adapters registered.
func NewManager(cfg ManagerConfig, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if len(cfg.Priority) == 0 {
		cfg.Priority = DefaultPriority
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	return &Manager{
		cfg:      cfg,
		logger:   logger,
		adapters: make(map[string]Adapter),
		runtimes: make(map[string]*runtime),
		bus:      make(chan BusEvent, 256),
		done:     make(chan struct{}),
	}
}

// Register adds an adapter and begins consuming its event channel. The
// platform starts in stopped status until StartAll or Start runs it.
func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	id := a.ID()
	m.adapters[id] = a
	m.runtimes[id] = &runtime{status: state.StatusStopped}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pump(a)
}

// Events is the manager's outbound bus. It closes on Close.
func (m *Manager) Events() <-chan BusEvent {
	return m.bus
}

// Platforms returns the registered platform ids in priority order.
func (m *Manager) Platforms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderedLocked()
}

// Has reports whether the platform is registered.
func (m *Manager) Has(platform string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.adapters[platform]
	return ok
}

func (m *Manager) orderedLocked() []string {
	seen := make(map[string]bool, len(m.adapters))
	ordered := make([]string, 0, len(m.adapters))
	for _, id := range m.cfg.Priority {
		if _, ok := m.adapters[id]; ok {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}

	var rest []string
	for id := range m.adapters {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

// StartAll starts every registered platform in priority order. A
// platform that fails to start schedules its own recovery; the next
// platform still starts.
func (m *Manager) StartAll(ctx context.Context) {
	for _, id := range m.Platforms() {
		if err := m.Start(ctx, id); err != nil {
			m.logger.Warnw("Platform failed to start", "platform", id, "error", err)
		}
	}
}

// StopAll stops every registered platform in reverse priority order.
func (m *Manager) StopAll(ctx context.Context) {
	ordered := m.Platforms()
	for i := len(ordered) - 1; i >= 0; i-- {
		if err := m.Stop(ctx, ordered[i]); err != nil {
			m.logger.Warnw("Platform failed to stop", "platform", ordered[i], "error", err)
		}
	}
}

// Start brings one platform up. A platform already connected or
// starting is left alone. On failure the platform moves to error and a
// recovery attempt is scheduled.
func (m *Manager) Start(ctx context.Context, platform string) error {
	m.mu.Lock()
	a, rt := m.adapters[platform], m.runtimes[platform]
	if a == nil || rt == nil {
		m.mu.Unlock()
		return errors.NewNotFoundError("platform %s", platform)
	}
	if rt.status == state.StatusConnected || rt.status == state.StatusStarting {
		m.mu.Unlock()
		return nil
	}
	rt.status = state.StatusStarting
	rt.failed = false
	rt.cancelTimer()
	m.mu.Unlock()

	m.emit(BusEvent{Kind: BusStarting, Platform: platform, Status: state.StatusStarting})
	m.logger.Infow("Starting platform", "platform", platform)

	if err := a.Start(ctx); err != nil {
		now := time.Now()
		m.mu.Lock()
		stopped := rt.status == state.StatusStopped
		if !stopped {
			rt.status = state.StatusError
		}
		rt.recordError(err.Error(), now)
		m.mu.Unlock()

		m.emit(BusEvent{Kind: BusError, Platform: platform, Status: state.StatusError, Err: err})
		if !stopped {
			m.scheduleRecovery(platform)
		}
		return errors.Wrapf(err, "start platform %s", platform)
	}

	m.markConnected(platform)
	return nil
}

// Stop takes one platform down and cancels any pending recovery. The
// adapter stop is best-effort: its error is logged, not returned.
func (m *Manager) Stop(ctx context.Context, platform string) error {
	m.mu.Lock()
	a, rt := m.adapters[platform], m.runtimes[platform]
	if a == nil || rt == nil {
		m.mu.Unlock()
		return errors.NewNotFoundError("platform %s", platform)
	}
	if rt.status == state.StatusStopped {
		m.mu.Unlock()
		return nil
	}
	rt.cancelTimer()
	rt.status = state.StatusStopped
	rt.attempts = 0
	rt.failed = false
	m.mu.Unlock()

	if err := a.Stop(ctx); err != nil {
		m.logger.Warnw("Platform stop reported error", "platform", platform, "error", err)
	}

	m.emit(BusEvent{Kind: BusDisconnected, Platform: platform, Status: state.StatusStopped})
	m.logger.Infow("Stopped platform", "platform", platform)
	return nil
}

// Restart stops then starts one platform.
func (m *Manager) Restart(ctx context.Context, platform string) error {
	if err := m.Stop(ctx, platform); err != nil {
		return err
	}
	return m.Start(ctx, platform)
}

// Send passes an outbound message to the platform's adapter.
func (m *Manager) Send(ctx context.Context, platform, target, body string) error {
	m.mu.Lock()
	a, rt := m.adapters[platform], m.runtimes[platform]
	if a == nil || rt == nil {
		m.mu.Unlock()
		return errors.NewNotFoundError("platform %s", platform)
	}
	status := rt.status
	m.mu.Unlock()

	if status != state.StatusConnected {
		return errors.NewInvalidRequestError("platform %s is %s, not connected", platform, status)
	}
	return a.Send(ctx, target, body)
}

// Snapshot returns the live state of every registered platform, in
// priority order.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(m.adapters))
	for _, id := range m.orderedLocked() {
		rt := m.runtimes[id]
		snaps = append(snaps, Snapshot{
			Platform:      id,
			Status:        rt.status,
			Attempts:      rt.attempts,
			LastError:     rt.lastError,
			LastConnected: rt.lastConnected,
			LastMessage:   rt.lastMessage,
			Stats:         m.adapters[id].Stats(),
		})
	}
	return snaps
}

// RecentErrors counts errors recorded for the platform within the
// window ending now.
func (m *Manager) RecentErrors(platform string, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt := m.runtimes[platform]
	if rt == nil {
		return 0
	}
	cutoff := time.Now().Add(-window)
	n := 0
	for _, at := range rt.errorTimes {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

// Close stops all platforms, cancels timers, and closes the bus. The
// manager cannot be reused afterwards.
func (m *Manager) Close(ctx context.Context) {
	m.closeOnce.Do(func() {
		m.StopAll(ctx)
		close(m.done)
		m.wg.Wait()
		close(m.bus)
	})
}

// pump consumes one adapter's event channel for the manager's
// lifetime. The channel survives Stop/Start cycles; it only closes
// when the adapter is discarded.
func (m *Manager) pump(a Adapter) {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-a.Events():
			if !ok {
				return
			}
			m.handle(a.ID(), ev)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) handle(platform string, ev Event) {
	switch ev.Type {
	case EventConnected:
		m.markConnected(platform)

	case EventDisconnected:
		m.mu.Lock()
		rt := m.runtimes[platform]
		if rt == nil || rt.status == state.StatusStopped {
			// We initiated the stop; Stop already reported it
			m.mu.Unlock()
			return
		}
		rt.status = state.StatusDisconnected
		m.mu.Unlock()

		m.emit(BusEvent{Kind: BusDisconnected, Platform: platform, Status: state.StatusDisconnected})
		m.scheduleRecovery(platform)

	case EventError:
		now := time.Now()
		m.mu.Lock()
		rt := m.runtimes[platform]
		if rt == nil {
			m.mu.Unlock()
			return
		}
		stopped := rt.status == state.StatusStopped
		if !stopped {
			rt.status = state.StatusError
		}
		rt.recordError(errString(ev.Err), now)
		m.mu.Unlock()

		m.emit(BusEvent{Kind: BusError, Platform: platform, Status: state.StatusError, Err: ev.Err})
		if !stopped {
			m.scheduleRecovery(platform)
		}

	case EventMessage:
		m.mu.Lock()
		if rt := m.runtimes[platform]; rt != nil {
			rt.lastMessage = time.Now()
		}
		m.mu.Unlock()

		m.emit(BusEvent{Kind: BusMessage, Platform: platform, Status: state.StatusConnected, Payload: ev.Payload})

	case EventQR:
		m.emit(BusEvent{Kind: BusQR, Platform: platform, QR: ev.QR})
	}
}

// markConnected records a successful connection, clearing the
// reconnect attempt counter and any pending recovery timer. Emits
// BusConnected only on an actual transition.
func (m *Manager) markConnected(platform string) {
	m.mu.Lock()
	rt := m.runtimes[platform]
	if rt == nil || rt.status == state.StatusStopped {
		// Stop won the race; stay stopped
		m.mu.Unlock()
		return
	}
	changed := rt.status != state.StatusConnected
	rt.status = state.StatusConnected
	rt.attempts = 0
	rt.failed = false
	rt.lastConnected = time.Now()
	rt.cancelTimer()
	m.mu.Unlock()

	if changed {
		m.emit(BusEvent{Kind: BusConnected, Platform: platform, Status: state.StatusConnected})
		m.logger.Infow("Platform connected", "platform", platform)
	}
}

// scheduleRecovery arms the reconnect timer for a platform that
// dropped or errored. After MaxAttempts recovery failures the platform
// goes terminal: status error, one BusFailed, no more timers.
func (m *Manager) scheduleRecovery(platform string) {
	select {
	case <-m.done:
		return
	default:
	}

	m.mu.Lock()
	rt := m.runtimes[platform]
	if rt == nil || rt.status == state.StatusStopped || rt.timer != nil {
		m.mu.Unlock()
		return
	}

	if rt.attempts >= m.cfg.MaxAttempts {
		alreadyFailed := rt.failed
		rt.failed = true
		rt.status = state.StatusError
		lastError := rt.lastError
		m.mu.Unlock()

		if !alreadyFailed {
			err := errors.Newf("platform %s failed after %d recovery attempts: %s", platform, m.cfg.MaxAttempts, lastError)
			m.emit(BusEvent{Kind: BusFailed, Platform: platform, Status: state.StatusError, Err: err})
			m.logger.Errorw("Platform failed permanently",
				"platform", platform,
				"attempts", m.cfg.MaxAttempts,
				"last_error", lastError)
		}
		return
	}

	delay := m.cfg.delay(rt.attempts)
	rt.attempts++
	attempt := rt.attempts
	rt.timer = time.AfterFunc(delay, func() { m.recover(platform) })
	m.mu.Unlock()

	m.emit(BusEvent{
		Kind:     BusRecovering,
		Platform: platform,
		Status:   state.StatusRecovering,
		Attempt:  attempt,
		Delay:    delay,
	})
	m.logger.Infow("Scheduled platform recovery",
		"platform", platform,
		"attempt", attempt,
		"max_attempts", m.cfg.MaxAttempts,
		"delay", delay)
}

// recover runs when a recovery timer fires.
func (m *Manager) recover(platform string) {
	select {
	case <-m.done:
		return
	default:
	}

	m.mu.Lock()
	rt := m.runtimes[platform]
	if rt == nil || rt.status == state.StatusStopped {
		m.mu.Unlock()
		return
	}
	rt.timer = nil
	rt.status = state.StatusRecovering
	m.mu.Unlock()

	m.logger.Debugw("Recovery timer fired", "platform", platform)
	if err := m.Start(context.Background(), platform); err != nil {
		m.logger.Warnw("Platform recovery attempt failed", "platform", platform, "error", err)
	}
}

// emit delivers to the bus in issue order, giving up only at shutdown.
func (m *Manager) emit(ev BusEvent) {
	select {
	case m.bus <- ev:
	case <-m.done:
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
