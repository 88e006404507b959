package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/platform/gitlog"
	"github.com/teranos/messagesd/platform/gmail"
	"github.com/teranos/messagesd/platform/signal"
	"github.com/teranos/messagesd/platform/telegram"
	"github.com/teranos/messagesd/platform/whatsapp"
)

// Default IPC and PID paths.
const (
	DefaultSocketPath = "/tmp/messages-daemon.sock"
	DefaultPIDPath    = "/tmp/messages-daemon.pid"
)

var (
	mu           sync.Mutex
	globalConfig *Config
)

// Load reads the merged configuration, caching the result.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(newViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// LoadWithViper unmarshals from a prepared viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := finalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile reads one specific config file plus defaults, bypassing
// the merge chain. Used by `config show --file` and tests.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	return LoadWithViper(v)
}

// Reset clears the cached configuration. Used by tests and the config
// watcher.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("MSGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindSensitiveEnvVars(v)
	SetDefaults(v)
	mergeConfigFiles(v)
	return v
}

// SetDefaults configures default values for every setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("socket_path", DefaultSocketPath)
	v.SetDefault("pid_path", DefaultPIDPath)

	// Recovery schedule per attempt, then the last entry repeats.
	v.SetDefault("daemon.backoff_seconds", []int{10, 30, 60, 120, 300})
	v.SetDefault("daemon.max_attempts", 5)

	v.SetDefault("health.check_interval_seconds", 60)
	v.SetDefault("health.stale_threshold_seconds", 300)
	v.SetDefault("health.error_window_seconds", 300)
	v.SetDefault("health.max_errors", 3)

	v.SetDefault("notify.desktop", false)
	v.SetDefault("notify.desktop_command", "notify-send")
	v.SetDefault("notify.dedup_seconds", 60)

	// Platforms default on; discovery still requires credentials.
	// The gitlog poller joins only when configured explicitly.
	v.SetDefault("platforms.signal.enabled", true)
	v.SetDefault("platforms.signal.socket_path", signal.DefaultSocketPath)
	v.SetDefault("platforms.whatsapp.enabled", true)
	v.SetDefault("platforms.whatsapp.bridge_url", whatsapp.DefaultBridgeURL)
	v.SetDefault("platforms.discord.enabled", true)
	v.SetDefault("platforms.telegram.enabled", true)
	v.SetDefault("platforms.telegram.poll_timeout_seconds", telegram.DefaultPollTimeout)
	v.SetDefault("platforms.gmail.enabled", true)
	v.SetDefault("platforms.gmail.imap_host", gmail.DefaultIMAPHost)
	v.SetDefault("platforms.gmail.smtp_host", gmail.DefaultSMTPHost)
	v.SetDefault("platforms.gmail.smtp_port", gmail.DefaultSMTPPort)
	v.SetDefault("platforms.gmail.mailbox", gmail.DefaultMailbox)
	v.SetDefault("platforms.gmail.poll_seconds", int(gmail.DefaultPollInterval.Seconds()))
	v.SetDefault("platforms.gitlog.enabled", false)
	v.SetDefault("platforms.gitlog.poll_seconds", int(gitlog.DefaultPollInterval.Seconds()))
}

// bindSensitiveEnvVars binds credentials to short env names alongside
// the replacer-derived ones.
func bindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "MSGD_DB_PATH", "MSGD_DATABASE_PATH")
	v.BindEnv("platforms.signal.account", "MSGD_SIGNAL_ACCOUNT")
	v.BindEnv("platforms.discord.token", "MSGD_DISCORD_TOKEN")
	v.BindEnv("platforms.telegram.token", "MSGD_TELEGRAM_TOKEN")
	v.BindEnv("platforms.gmail.address", "MSGD_GMAIL_ADDRESS")
	v.BindEnv("platforms.gmail.password", "MSGD_GMAIL_PASSWORD")
}

// UserConfigPath returns the per-user config file,
// ~/.messagesd/config.toml. Empty when the home directory cannot be
// resolved.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".messagesd", "config.toml")
}

// mergeConfigFiles merges config files lowest to highest precedence:
// system, user, then a project file found by walking up from CWD.
func mergeConfigFiles(v *viper.Viper) {
	var paths []string
	paths = append(paths, "/etc/messagesd/config.toml")
	if user := UserConfigPath(); user != "" {
		paths = append(paths, user)
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		layer := viper.New()
		layer.SetConfigFile(path)
		layer.SetConfigType("toml")
		if err := layer.ReadInConfig(); err != nil {
			continue
		}
		// Merge at config level so environment variables still win.
		v.MergeConfigMap(layer.AllSettings())
	}
}

// findProjectConfig walks up from the working directory looking for a
// .messagesd.toml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ".messagesd.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// finalize expands the root and fills the derived paths.
func finalize(cfg *Config) error {
	root := cfg.Root
	switch {
	case root == "":
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "resolve home directory")
		}
		root = filepath.Join(home, ".messagesd")
	case root == "~" || strings.HasPrefix(root, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "resolve home directory")
		}
		root = filepath.Join(home, strings.TrimPrefix(root, "~"))
	}
	cfg.Root = root

	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.PIDPath == "" {
		cfg.PIDPath = DefaultPIDPath
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(root, "messages", "state.db")
	}
	if cfg.Notify.LogPath == "" {
		cfg.Notify.LogPath = filepath.Join(root, "logging", "daemon.log")
	}
	return nil
}
