package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/messagesd/errors"
)

// starter is the shape written by `config init`. Only the settings a
// new install usually edits; everything else keeps its default.
type starter struct {
	Root       string           `toml:"root"`
	SocketPath string           `toml:"socket_path"`
	PIDPath    string           `toml:"pid_path"`
	Platforms  starterPlatforms `toml:"platforms"`
}

type starterPlatforms struct {
	Signal   starterSignal   `toml:"signal"`
	WhatsApp starterWhatsApp `toml:"whatsapp"`
	Discord  starterToken    `toml:"discord"`
	Telegram starterToken    `toml:"telegram"`
	Gmail    starterGmail    `toml:"gmail"`
	Gitlog   starterGitlog   `toml:"gitlog"`
}

type starterSignal struct {
	Enabled bool   `toml:"enabled"`
	Account string `toml:"account"`
}

type starterWhatsApp struct {
	Enabled   bool   `toml:"enabled"`
	BridgeURL string `toml:"bridge_url"`
}

type starterToken struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
}

type starterGmail struct {
	Enabled  bool   `toml:"enabled"`
	Address  string `toml:"address"`
	Password string `toml:"password"`
	Mailbox  string `toml:"mailbox"`
}

type starterGitlog struct {
	Enabled bool     `toml:"enabled"`
	Repos   []string `toml:"repos"`
}

// WriteStarter writes a starter config file. It refuses to overwrite
// an existing one.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path)
	}

	v := viper.New()
	SetDefaults(v)

	s := starter{
		Root:       "~/.messagesd",
		SocketPath: v.GetString("socket_path"),
		PIDPath:    v.GetString("pid_path"),
		Platforms: starterPlatforms{
			Signal:   starterSignal{Enabled: true},
			WhatsApp: starterWhatsApp{Enabled: true, BridgeURL: v.GetString("platforms.whatsapp.bridge_url")},
			Discord:  starterToken{Enabled: true},
			Telegram: starterToken{Enabled: true},
			Gmail:    starterGmail{Enabled: true, Mailbox: v.GetString("platforms.gmail.mailbox")},
			Gitlog:   starterGitlog{Enabled: false},
		},
	}

	out, err := toml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal starter config")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create config directory %s", dir)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "write config file %s", path)
	}
	return nil
}
