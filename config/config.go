// Package config resolves the daemon's settings: install root, socket
// and PID paths, database location, per-platform adapter settings, and
// the manager/health/notify knobs. Sources merge lowest to highest:
// /etc/messagesd/config.toml, ~/.messagesd/config.toml, a project
// .messagesd.toml found by walking up from the working directory, then
// MSGD_* environment variables.
package config

import (
	"time"
)

// Config is the daemon configuration.
type Config struct {
	// Root is the install root holding message state, auth material,
	// and logs. Default ~/.messagesd.
	Root string `mapstructure:"root"`

	// SocketPath is the IPC socket.
	SocketPath string `mapstructure:"socket_path"`

	// PIDPath is the daemon PID file.
	PIDPath string `mapstructure:"pid_path"`

	Database  DatabaseConfig  `mapstructure:"database"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Health    HealthConfig    `mapstructure:"health"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Platforms PlatformsConfig `mapstructure:"platforms"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	// Path to the database file. Empty means <root>/messages/state.db.
	Path string `mapstructure:"path"`
}

// DaemonConfig tunes the platform manager.
type DaemonConfig struct {
	// BackoffSeconds is the recovery schedule; attempts past the end
	// reuse the last entry.
	BackoffSeconds []int `mapstructure:"backoff_seconds"`

	// MaxAttempts before a platform is declared failed.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// BackoffSchedule returns the recovery delays.
func (d DaemonConfig) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, 0, len(d.BackoffSeconds))
	for _, s := range d.BackoffSeconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// HealthConfig tunes the health monitor.
type HealthConfig struct {
	CheckIntervalSeconds  int `mapstructure:"check_interval_seconds"`
	StaleThresholdSeconds int `mapstructure:"stale_threshold_seconds"`
	ErrorWindowSeconds    int `mapstructure:"error_window_seconds"`
	MaxErrors             int `mapstructure:"max_errors"`
}

// CheckInterval returns the monitor tick period.
func (h HealthConfig) CheckInterval() time.Duration {
	return time.Duration(h.CheckIntervalSeconds) * time.Second
}

// StaleThreshold returns the activity staleness cutoff.
func (h HealthConfig) StaleThreshold() time.Duration {
	return time.Duration(h.StaleThresholdSeconds) * time.Second
}

// ErrorWindow returns the recent-error window.
func (h HealthConfig) ErrorWindow() time.Duration {
	return time.Duration(h.ErrorWindowSeconds) * time.Second
}

// NotifyConfig tunes the notification dispatcher.
type NotifyConfig struct {
	// LogPath is the notification log. Empty means
	// <root>/logging/daemon.log.
	LogPath string `mapstructure:"log_path"`

	// Desktop enables the desktop notifier command.
	Desktop bool `mapstructure:"desktop"`

	// DesktopCommand is the shell-quoted notifier template.
	DesktopCommand string `mapstructure:"desktop_command"`

	DedupSeconds int `mapstructure:"dedup_seconds"`
}

// DedupWindow returns the notification dedup window.
func (n NotifyConfig) DedupWindow() time.Duration {
	return time.Duration(n.DedupSeconds) * time.Second
}

// PlatformsConfig holds every adapter's settings.
type PlatformsConfig struct {
	Signal   SignalConfig   `mapstructure:"signal"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	Gitlog   GitlogConfig   `mapstructure:"gitlog"`
}

// SignalConfig configures the signal-cli adapter.
type SignalConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Account is the registered number in E.164 form.
	Account string `mapstructure:"account"`

	// SocketPath of the signal-cli daemon's JSON-RPC socket.
	SocketPath string `mapstructure:"socket_path"`

	// DaemonCommand, when set, is spawned if the socket is absent.
	DaemonCommand string `mapstructure:"daemon_command"`
}

// WhatsAppConfig configures the bridge adapter.
type WhatsAppConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BridgeURL string `mapstructure:"bridge_url"`
}

// DiscordConfig configures the gateway adapter.
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// TelegramConfig configures the bot long-poll adapter.
type TelegramConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Token              string `mapstructure:"token"`
	PollTimeoutSeconds int    `mapstructure:"poll_timeout_seconds"`
}

// GmailConfig configures the IMAP/SMTP adapter.
type GmailConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Address string `mapstructure:"address"`

	// Password is an app password covering IMAP and SMTP.
	Password string `mapstructure:"password"`

	IMAPHost    string `mapstructure:"imap_host"`
	SMTPHost    string `mapstructure:"smtp_host"`
	SMTPPort    int    `mapstructure:"smtp_port"`
	Mailbox     string `mapstructure:"mailbox"`
	PollSeconds int    `mapstructure:"poll_seconds"`
}

// PollInterval returns the mailbox check cadence.
func (g GmailConfig) PollInterval() time.Duration {
	return time.Duration(g.PollSeconds) * time.Second
}

// GitlogConfig configures the local git repo poller.
type GitlogConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Repos       []string `mapstructure:"repos"`
	PollSeconds int      `mapstructure:"poll_seconds"`
}

// PollInterval returns the repo scan cadence.
func (g GitlogConfig) PollInterval() time.Duration {
	return time.Duration(g.PollSeconds) * time.Second
}
