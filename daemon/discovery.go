package daemon

import (
	"context"
	"path/filepath"

	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/platform/discord"
	"github.com/teranos/messagesd/platform/gitlog"
	"github.com/teranos/messagesd/platform/gmail"
	"github.com/teranos/messagesd/platform/signal"
	"github.com/teranos/messagesd/platform/telegram"
	"github.com/teranos/messagesd/platform/whatsapp"
)

// discover builds the enabled adapters, registers the authenticated
// ones with the manager, and returns how many are registered in total.
// Runs on every Start so credentials added between restarts are picked
// up; adapters already registered are left alone.
func (d *Daemon) discover(ctx context.Context) int {
	for _, a := range d.buildAdapters() {
		id := a.ID()

		d.mu.Lock()
		already := d.registered[id]
		d.mu.Unlock()
		if already {
			continue
		}

		if !a.IsAuthenticated(ctx) {
			d.logger.Infow("Platform not authenticated, skipping", "platform", id)
			continue
		}

		d.manager.Register(a)
		d.mu.Lock()
		d.registered[id] = true
		d.mu.Unlock()
		d.logger.Infow("Platform discovered", "platform", id)
	}

	return len(d.manager.Platforms())
}

// buildAdapters constructs one adapter per enabled platform, wired to
// the sync watermarks and the email dedup index.
func (d *Daemon) buildAdapters() []platform.Adapter {
	p := d.cfg.Platforms
	var out []platform.Adapter

	if p.Signal.Enabled {
		out = append(out, signal.New(signal.Config{
			Account:       p.Signal.Account,
			SocketPath:    p.Signal.SocketPath,
			DaemonCommand: p.Signal.DaemonCommand,
		}, d.logger))
	}

	if p.WhatsApp.Enabled {
		out = append(out, whatsapp.New(whatsapp.Config{
			BridgeURL: p.WhatsApp.BridgeURL,
			StateDir:  filepath.Join(d.cfg.Root, "messages"),
		}, d.logger))
	}

	if p.Discord.Enabled {
		out = append(out, discord.New(discord.Config{
			Token: p.Discord.Token,
		}, d.logger))
	}

	if p.Telegram.Enabled {
		out = append(out, telegram.New(telegram.Config{
			Token:       p.Telegram.Token,
			PollTimeout: p.Telegram.PollTimeoutSeconds,
		}, d.logger))
	}

	if p.Gmail.Enabled {
		out = append(out, gmail.New(gmail.Config{
			Address:      p.Gmail.Address,
			Password:     p.Gmail.Password,
			IMAPHost:     p.Gmail.IMAPHost,
			SMTPHost:     p.Gmail.SMTPHost,
			SMTPPort:     p.Gmail.SMTPPort,
			Mailbox:      p.Gmail.Mailbox,
			PollInterval: p.Gmail.PollInterval(),
			Peek:         d.syncMgr.Peek,
			Seen:         d.emailSeen,
		}, d.logger))
	}

	if p.Gitlog.Enabled && len(p.Gitlog.Repos) > 0 {
		out = append(out, gitlog.New(gitlog.Config{
			Repos:        p.Gitlog.Repos,
			PollInterval: p.Gitlog.PollInterval(),
		}, d.syncMgr.Peek, d.logger))
	}

	return out
}

// emailSeen reports whether a Message-ID has been ingested before. A
// message the thread index knows is a message the stores hold.
func (d *Daemon) emailSeen(messageID string) (bool, error) {
	_, ok, err := d.emails.ThreadForMessage(messageID)
	return ok, err
}
