// Package discord streams messages from a Discord bot session. The
// gateway connection and its heartbeats belong to discordgo; recovery
// after a drop belongs to the platform manager, so the session's own
// reconnect is disabled and a disconnect tears the adapter down.
package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/syncstate"
)

// Config holds the discord adapter settings.
type Config struct {
	// Token is the bot token, without the "Bot " prefix.
	Token string
}

// Adapter bridges one Discord bot account.
type Adapter struct {
	*platform.Emitter

	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.Mutex
	session *discordgo.Session
	send    func(channelID, body string) error
	selfID  string
}

// New creates the adapter.
func New(cfg Config, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Adapter{
		Emitter: platform.NewEmitter("discord"),
		cfg:     cfg,
		logger:  logger,
	}
}

func (a *Adapter) ID() string { return "discord" }

// IsAuthenticated checks the token against the REST API without
// opening a gateway session.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	if a.cfg.Token == "" {
		return false
	}
	s, err := discordgo.New("Bot " + a.cfg.Token)
	if err != nil {
		return false
	}
	_, err = s.User("@me", discordgo.WithContext(ctx))
	return err == nil
}

// Start opens the gateway session. discordgo's Open blocks until the
// READY handshake completes, so a nil return means connected.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return nil
	}
	if a.cfg.Token == "" {
		return errors.Mark(errors.New("discord token not configured"), errors.ErrConfig)
	}

	s, err := discordgo.New("Bot " + a.cfg.Token)
	if err != nil {
		return errors.Wrap(err, "create discord session")
	}
	s.ShouldReconnectOnError = false
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	s.AddHandler(a.handleReady)
	s.AddHandler(a.handleMessage)
	s.AddHandler(a.handleDisconnect)

	if err := s.Open(); err != nil {
		return errors.Mark(errors.Wrap(err, "open discord gateway"), errors.ErrTransientNetwork)
	}

	a.session = s
	a.send = func(channelID, body string) error {
		_, err := s.ChannelMessageSend(channelID, body)
		return err
	}

	a.EmitConnected()
	return nil
}

// Stop closes the gateway session.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.send = nil
	a.mu.Unlock()
	if s == nil {
		return nil
	}

	if err := s.Close(); err != nil {
		a.logger.Warnw("discord session close failed", "error", err)
	}
	a.SetConnected(false)
	return nil
}

// Send posts body to a channel id.
func (a *Adapter) Send(ctx context.Context, target, body string) error {
	a.mu.Lock()
	send := a.send
	a.mu.Unlock()
	if send == nil {
		return errors.Wrap(errors.ErrNotConnected, "discord")
	}
	return errors.Wrapf(send(target, body), "send to channel %s", target)
}

func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		a.mu.Lock()
		a.selfID = r.User.ID
		a.mu.Unlock()
	}
	a.logger.Infow("discord ready",
		"user", readyUsername(r),
		"guilds", len(r.Guilds))
}

func (a *Adapter) handleDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.send = nil
	a.mu.Unlock()
	if sess == nil {
		return
	}

	sess.Close()
	a.SetConnected(false)
	a.EmitDisconnected()
	a.logger.Warnw("discord gateway lost")
}

func (a *Adapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	a.EmitMessage(a.payload(s, m.Message))
}

func (a *Adapter) payload(s *discordgo.Session, m *discordgo.Message) *platform.Payload {
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}

	threadType := message.ThreadChannel
	if m.GuildID == "" {
		threadType = message.ThreadDM
	}

	p := &platform.Payload{
		Kind: message.KindDiscordMessage,
		Author: message.Author{
			Name:   name,
			Handle: m.Author.ID,
		},
		Content:    m.Content,
		CreatedAt:  m.Timestamp.UnixMilli(),
		PlatformID: m.ID,
		Thread: platform.ThreadHint{
			ID:     m.ChannelID,
			Type:   threadType,
			Title:  a.channelTitle(s, m.ChannelID),
			RoomID: m.GuildID,
		},
	}

	if m.MessageReference != nil {
		p.ReplyTo = m.MessageReference.MessageID
	}
	for _, u := range m.Mentions {
		p.Mentions = append(p.Mentions, u.Username)
	}
	for _, att := range m.Attachments {
		p.Attachments = append(p.Attachments, platform.Attachment{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeBytes:   int64(att.Size),
		})
	}

	a.mu.Lock()
	source := a.selfID
	a.mu.Unlock()
	if source == "" {
		source = "bot"
	}

	id := syncstate.NewID("discord", source, "messages")
	wm := syncstate.MessageID(m.ID, p.CreatedAt)
	p.SyncID = id.String()
	p.Watermark = &wm
	return p
}

// channelTitle looks the channel name up in the session state cache.
// Best-effort: DMs and cold caches leave it empty.
func (a *Adapter) channelTitle(s *discordgo.Session, channelID string) string {
	if s == nil || s.State == nil {
		return ""
	}
	ch, err := s.State.Channel(channelID)
	if err != nil {
		return ""
	}
	return ch.Name
}

func readyUsername(r *discordgo.Ready) string {
	if r.User == nil {
		return ""
	}
	return r.User.Username
}
