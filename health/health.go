// Package health watches the running platforms. A periodic pass marks
// a platform unhealthy when it is disconnected, has gone quiet past
// the stale threshold, or has accumulated too many recent errors, and
// announces transitions in both directions.
package health

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/platform"
)

// Defaults for the monitor knobs.
const (
	DefaultCheckInterval  = 60 * time.Second
	DefaultStaleThreshold = 5 * time.Minute
	DefaultErrorWindow    = 5 * time.Minute
	DefaultMaxErrors      = 3
)

// Source is the monitor's view of the platform manager.
type Source interface {
	Snapshot() []platform.Snapshot
	RecentErrors(platform string, window time.Duration) int
}

// Config tunes the monitor.
type Config struct {
	CheckInterval  time.Duration
	StaleThreshold time.Duration
	ErrorWindow    time.Duration
	MaxErrors      int
}

// DefaultConfig returns the stock intervals.
func DefaultConfig() Config {
	return Config{
		CheckInterval:  DefaultCheckInterval,
		StaleThreshold: DefaultStaleThreshold,
		ErrorWindow:    DefaultErrorWindow,
		MaxErrors:      DefaultMaxErrors,
	}
}

// Check is one platform's health at a point in time.
type Check struct {
	Platform     string    `json:"platform"`
	Healthy      bool      `json:"healthy"`
	Connected    bool      `json:"connected"`
	Stale        bool      `json:"stale"`
	RecentErrors int       `json:"recent_errors"`
	LastActivity time.Time `json:"last_activity"`
	Detail       string    `json:"detail,omitempty"`
}

// Overall is the aggregate verdict across platforms.
type Overall string

// Aggregate verdicts. Degraded means some but not all platforms pass.
const (
	OverallHealthy   Overall = "healthy"
	OverallDegraded  Overall = "degraded"
	OverallUnhealthy Overall = "unhealthy"
)

// ProcessStats is the daemon's own resource footprint.
type ProcessStats struct {
	RSSMB      float64 `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Report is the full health picture returned to status queries.
type Report struct {
	Overall   Overall      `json:"overall"`
	Checks    []Check      `json:"checks"`
	Process   ProcessStats `json:"process"`
	CheckedAt time.Time    `json:"checked_at"`
}

// EventType discriminates monitor events.
type EventType string

// Monitor event types.
const (
	EventUnhealthy EventType = "health:unhealthy"
	EventRecovered EventType = "health:recovered"
)

// Event is one health transition. Check carries the failing state for
// EventUnhealthy.
type Event struct {
	Type     EventType
	Platform string
	Check    Check
}

// Monitor runs the periodic pass and reports transitions. One event
// per direction per platform: a platform that stays unhealthy across
// ticks does not re-announce.
type Monitor struct {
	cfg    Config
	src    Source
	logger *zap.SugaredLogger
	proc   *process.Process

	events chan Event

	mu        sync.Mutex
	unhealthy map[string]bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMonitor creates a monitor over src.
func NewMonitor(cfg Config, src Source, logger *zap.SugaredLogger) *Monitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = DefaultErrorWindow
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}

	m := &Monitor{
		cfg:       cfg,
		src:       src,
		logger:    logger,
		events:    make(chan Event, 16),
		unhealthy: make(map[string]bool),
	}

	// Stats are best-effort; a platform without procfs support just
	// reports zeros.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	} else {
		logger.Debugw("Process stats unavailable", "error", err)
	}
	return m
}

// Events returns the transition channel.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start begins the periodic pass.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
	m.logger.Infow("Health monitor started", "interval", m.cfg.CheckInterval)
}

// Stop ends the periodic pass. The monitor can be started again.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Infow("Health monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.checkOnce(ctx, now)
		}
	}
}

// checkOnce evaluates every platform and announces transitions.
func (m *Monitor) checkOnce(ctx context.Context, now time.Time) {
	for _, check := range m.evaluate(now) {
		m.mu.Lock()
		was := m.unhealthy[check.Platform]
		m.unhealthy[check.Platform] = !check.Healthy
		m.mu.Unlock()

		switch {
		case !check.Healthy && !was:
			m.logger.Warnw("Platform unhealthy",
				"platform", check.Platform,
				"detail", check.Detail)
			m.emit(ctx, Event{Type: EventUnhealthy, Platform: check.Platform, Check: check})
		case check.Healthy && was:
			m.logger.Infow("Platform recovered", "platform", check.Platform)
			m.emit(ctx, Event{Type: EventRecovered, Platform: check.Platform, Check: check})
		}
	}
}

// emit delivers in issue order while the monitor runs.
func (m *Monitor) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// evaluate computes one check per platform.
func (m *Monitor) evaluate(now time.Time) []Check {
	snaps := m.src.Snapshot()
	checks := make([]Check, 0, len(snaps))
	for _, snap := range snaps {
		checks = append(checks, m.check(snap, now))
	}
	return checks
}

func (m *Monitor) check(snap platform.Snapshot, now time.Time) Check {
	lastActivity := snap.LastConnected
	if snap.LastMessage.After(lastActivity) {
		lastActivity = snap.LastMessage
	}

	c := Check{
		Platform:     snap.Platform,
		Connected:    snap.Stats.IsConnected,
		Stale:        now.Sub(lastActivity) > m.cfg.StaleThreshold,
		RecentErrors: m.src.RecentErrors(snap.Platform, m.cfg.ErrorWindow),
		LastActivity: lastActivity,
	}
	c.Healthy = c.Connected && !c.Stale && c.RecentErrors < m.cfg.MaxErrors

	var reasons []string
	if !c.Connected {
		reasons = append(reasons, "not connected")
	}
	if c.Stale {
		if lastActivity.IsZero() {
			reasons = append(reasons, "no activity recorded")
		} else {
			reasons = append(reasons, fmt.Sprintf("no activity for %s", now.Sub(lastActivity).Round(time.Second)))
		}
	}
	if c.RecentErrors >= m.cfg.MaxErrors {
		reasons = append(reasons, fmt.Sprintf("%d errors in %s", c.RecentErrors, m.cfg.ErrorWindow))
	}
	c.Detail = strings.Join(reasons, "; ")
	return c
}

// Report runs a fresh evaluation without touching transition state.
func (m *Monitor) Report() Report {
	now := time.Now()
	checks := m.evaluate(now)

	healthy := 0
	for _, c := range checks {
		if c.Healthy {
			healthy++
		}
	}
	overall := OverallUnhealthy
	switch {
	case len(checks) > 0 && healthy == len(checks):
		overall = OverallHealthy
	case healthy > 0:
		overall = OverallDegraded
	}

	return Report{
		Overall:   overall,
		Checks:    checks,
		Process:   m.processStats(),
		CheckedAt: now,
	}
}

func (m *Monitor) processStats() ProcessStats {
	var stats ProcessStats
	if m.proc == nil {
		return stats
	}
	if mi, err := m.proc.MemoryInfo(); err == nil {
		stats.RSSMB = float64(mi.RSS) / (1 << 20)
	}
	if pct, err := m.proc.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	return stats
}
