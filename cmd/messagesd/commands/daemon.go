package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/messagesd/config"
	"github.com/teranos/messagesd/daemon"
	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/ipc"
	"github.com/teranos/messagesd/logger"
	"github.com/teranos/messagesd/sym"
	"github.com/teranos/messagesd/version"
)

// DaemonCmd runs the daemon in the foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Open + " Run the messaging daemon in the foreground",
	Long: sym.Open + ` Run the messaging daemon.

The daemon:
- Discovers authenticated platforms and connects them in priority order
- Ingests inbound messages into the unified archive
- Recovers dropped connections with backoff
- Answers control commands on the unix socket

It runs until interrupted. SIGTERM, SIGINT, and SIGHUP all trigger a
graceful shutdown; a second signal forces immediate exit.

Example:
  messagesd daemon          # Run in foreground
  messagesd daemon -v       # Same, with debug logging`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if verbose, _ := cmd.Flags().GetCount("verbose"); verbose > 0 {
		logger.SetLevel("debug")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := acquirePIDFile(cfg.PIDPath); err != nil {
		return err
	}
	defer releasePIDFile(cfg.PIDPath)

	fmt.Printf("%s messagesd %s starting (pid %d)\n", sym.Open, version.Get().Short(), os.Getpid())

	d, err := daemon.New(cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to wire daemon: %w", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		d.Close(ctx)
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	srv := ipc.NewServer(cfg.SocketPath, d, logger.Logger)
	if err := srv.Start(); err != nil {
		d.Close(ctx)
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	// Config edits take effect on the next restart; the watcher only
	// announces them so operators know the running state is older.
	if path := config.UserConfigPath(); path != "" {
		watcher, werr := config.NewWatcher(path)
		if werr != nil {
			logger.Debugw("Config watcher not started", "error", werr)
		} else {
			watcher.OnReload(func(_ *config.Config) {
				logger.Infow("Configuration changed on disk; restart the daemon to apply")
			})
			defer watcher.Stop()
		}
	}

	st := d.Status()
	fmt.Printf("%s Control socket: %s\n", sym.Sock, cfg.SocketPath)
	fmt.Printf("%s Database: %s\n", sym.DB, cfg.Database.Path)
	fmt.Printf("%s Platforms: %d registered\n", sym.Mail, st.Summary.Total)
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Open)

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	sig := <-sigc

	fmt.Printf("\n%s Received %s, shutting down...\n", sym.Close, sig)
	go func() {
		s := <-sigc
		fmt.Fprintf(os.Stderr, "%s Received %s again, forcing exit\n", sym.Close, s)
		os.Exit(1)
	}()

	srv.Stop()
	d.Close(ctx)

	fmt.Printf("%s messagesd stopped\n", sym.Close)
	return nil
}

// acquirePIDFile claims the PID file. A live holder refuses the start;
// a dead one is cleaned up.
func acquirePIDFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid > 0 && processAlive(pid) {
			return errors.Wrapf(errors.ErrAlreadyRunning,
				"daemon already running with PID %d (pid file %s)", pid, path)
		}
		logger.Warnw("Removing stale PID file", "path", path, "stale_pid", pid)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale pid file %s: %w", path, err)
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create pid file directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file %s: %w", path, err)
	}
	return nil
}

func releasePIDFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnw("PID file not removed", "path", path, "error", err)
	}
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
