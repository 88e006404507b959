// Package daemon is the top-level supervisor. It owns the stores, the
// platform manager, the health monitor, and the notification
// dispatcher, routes events between them, and answers control
// commands.
package daemon

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/messagesd/config"
	"github.com/teranos/messagesd/db"
	"github.com/teranos/messagesd/emailthread"
	"github.com/teranos/messagesd/health"
	"github.com/teranos/messagesd/ingest"
	"github.com/teranos/messagesd/notify"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/state"
	"github.com/teranos/messagesd/syncstate"
	"github.com/teranos/messagesd/version"
)

// Status is the daemon's aggregate state.
type Status string

// Aggregate states. Degraded covers every partial condition: some
// platforms down, or all down while the daemon keeps retrying.
const (
	StatusRunning  Status = "running"
	StatusDegraded Status = "degraded"
	StatusStopped  Status = "stopped"
)

// Daemon supervises one messagesd instance. Construct with New, drive
// with Start/Stop, release with Close. A stopped daemon can start
// again; a closed one cannot.
type Daemon struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	sqlDB      *sql.DB
	lifecycle  *state.LifecycleStore
	platforms  *state.PlatformStore
	syncMgr    *syncstate.Manager
	emails     *emailthread.Store
	normalizer *ingest.Normalizer
	notifier   *notify.Dispatcher
	manager    *platform.Manager
	monitor    *health.Monitor

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu         sync.Mutex
	runID      string
	startedAt  time.Time
	status     Status
	running    bool
	registered map[string]bool
}

// New wires the daemon. Nothing runs until Start: the routers idle on
// empty channels and no platform is registered yet.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	sqlDB, err := db.OpenWithMigrations(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	syncMgr := syncstate.NewManager(state.NewSyncStore(sqlDB), logger)
	fetcher := ingest.NewAttachmentFetcher(filepath.Join(cfg.Root, "messages", "blobs"), logger)

	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		sqlDB:      sqlDB,
		lifecycle:  state.NewLifecycleStore(sqlDB),
		platforms:  state.NewPlatformStore(sqlDB),
		syncMgr:    syncMgr,
		emails:     emailthread.NewStore(sqlDB),
		normalizer: ingest.NewNormalizer(sqlDB, syncMgr, fetcher, logger),
		notifier: notify.NewDispatcher(notify.Config{
			LogPath:        cfg.Notify.LogPath,
			DedupWindow:    cfg.Notify.DedupWindow(),
			Desktop:        cfg.Notify.Desktop,
			DesktopCommand: cfg.Notify.DesktopCommand,
		}, logger),
		manager: platform.NewManager(platform.ManagerConfig{
			Priority:    platform.DefaultPriority,
			Backoff:     cfg.Daemon.BackoffSchedule(),
			MaxAttempts: cfg.Daemon.MaxAttempts,
		}, logger),
		done:       make(chan struct{}),
		status:     StatusStopped,
		registered: make(map[string]bool),
	}
	d.monitor = health.NewMonitor(health.Config{
		CheckInterval:  cfg.Health.CheckInterval(),
		StaleThreshold: cfg.Health.StaleThreshold(),
		ErrorWindow:    cfg.Health.ErrorWindow(),
		MaxErrors:      cfg.Health.MaxErrors,
	}, d.manager, logger)

	d.wg.Add(2)
	go d.routePlatformEvents()
	go d.routeHealthEvents()
	return d, nil
}

// Start records the run, discovers authenticated platforms, brings
// them up in priority order, and starts the health monitor. A running
// daemon is left alone.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	if prev, err := d.lifecycle.LastRun(); err == nil && prev.CleanShutdown == nil {
		d.logger.Warnw("Previous run did not shut down cleanly",
			"run_id", prev.RunID,
			"started_at", prev.StartedAt,
		)
	}
	runID, err := d.lifecycle.RecordStart(os.Getpid(), version.Get().Short())
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.runID = runID
	d.startedAt = time.Now()
	d.running = true
	d.mu.Unlock()

	d.logger.Infow("Daemon starting", "run_id", runID, "pid", os.Getpid())

	registered := d.discover(ctx)
	if registered == 0 {
		d.logger.Warnw("No platform is authenticated; daemon idles until restart")
	}

	d.manager.StartAll(ctx)
	d.monitor.Start()
	d.recompute()

	d.notifier.Info("Daemon started", "run "+runID, "")
	return nil
}

// Stop takes the daemon down: health monitor first, then every
// platform in reverse priority order, then the lifecycle record. The
// stores stay open so a later Start can resume.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	runID := d.runID
	d.mu.Unlock()

	d.logger.Infow("Daemon stopping", "run_id", runID)

	d.monitor.Stop()
	d.manager.StopAll(ctx)

	if err := d.lifecycle.RecordShutdown(runID, true); err != nil {
		d.logger.Warnw("Shutdown record failed", "run_id", runID, "error", err)
	}
	d.notifier.Info("Daemon stopped", "run "+runID, "")

	d.mu.Lock()
	d.status = StatusStopped
	d.mu.Unlock()
	return nil
}

// Restart performs a full stop/start cycle.
func (d *Daemon) Restart(ctx context.Context) error {
	if err := d.Stop(ctx); err != nil {
		return err
	}
	return d.Start(ctx)
}

// Close stops the daemon and releases everything. Idempotent; the
// instance is unusable afterwards.
func (d *Daemon) Close(ctx context.Context) {
	d.closeOnce.Do(func() {
		d.Stop(ctx)
		d.manager.Close(ctx)
		close(d.done)
		d.wg.Wait()
		d.notifier.Close()
		if err := d.sqlDB.Close(); err != nil {
			d.logger.Warnw("Database close failed", "error", err)
		}
	})
}

// recompute derives the aggregate status from the manager's live view.
// No effect once the daemon has stopped; shutdown owns that
// transition.
func (d *Daemon) recompute() {
	snaps := d.manager.Snapshot()
	total := len(snaps)
	connected := 0
	for _, s := range snaps {
		if s.Status == state.StatusConnected {
			connected++
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	switch {
	case total == 0:
		d.status = StatusStopped
	case connected == total:
		d.status = StatusRunning
	default:
		d.status = StatusDegraded
	}
}

func (d *Daemon) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
