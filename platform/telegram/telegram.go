// Package telegram streams messages through a Telegram bot using long
// polling. The bot API library retries failed polls internally, so the
// adapter sees a closed update channel only when it stops itself.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/syncstate"
)

// DefaultPollTimeout is the long-poll window in seconds.
const DefaultPollTimeout = 30

// Config holds the telegram adapter settings.
type Config struct {
	// Token is the bot token from BotFather.
	Token string

	// PollTimeout is the long-poll window in seconds.
	PollTimeout int
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{PollTimeout: DefaultPollTimeout}
}

// Adapter bridges one Telegram bot.
type Adapter struct {
	*platform.Emitter

	cfg    Config
	logger *zap.SugaredLogger

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	send   func(c tgbotapi.Chattable) error
	self   tgbotapi.User
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the adapter.
func New(cfg Config, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Adapter{
		Emitter: platform.NewEmitter("telegram"),
		cfg:     cfg,
		logger:  logger,
	}
}

func (a *Adapter) ID() string { return "telegram" }

// IsAuthenticated validates the token with a getMe call.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	if a.cfg.Token == "" {
		return false
	}
	_, err := tgbotapi.NewBotAPI(a.cfg.Token)
	return err == nil
}

// Start authenticates the bot and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return nil
	}
	if a.cfg.Token == "" {
		return errors.Mark(errors.New("telegram token not configured"), errors.ErrConfig)
	}

	bot, err := tgbotapi.NewBotAPI(a.cfg.Token)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "authenticate telegram bot"), errors.ErrAuth)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.cfg.PollTimeout
	updates := bot.GetUpdatesChan(u)

	runCtx, cancel := context.WithCancel(context.Background())
	a.bot = bot
	a.self = bot.Self
	a.cancel = cancel
	a.send = func(c tgbotapi.Chattable) error {
		_, err := bot.Send(c)
		return err
	}

	a.EmitConnected()
	a.logger.Infow("telegram bot polling", "username", bot.Self.UserName)

	a.wg.Add(1)
	go a.consume(runCtx, updates)
	return nil
}

// Stop ends polling and the consume loop.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	bot := a.bot
	cancel := a.cancel
	a.bot = nil
	a.send = nil
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	if bot != nil {
		bot.StopReceivingUpdates()
	}
	cancel()
	a.wg.Wait()
	a.SetConnected(false)
	return nil
}

// Send delivers body to a numeric chat id or an @channel name.
func (a *Adapter) Send(ctx context.Context, target, body string) error {
	a.mu.Lock()
	send := a.send
	a.mu.Unlock()
	if send == nil {
		return errors.Wrap(errors.ErrNotConnected, "telegram")
	}

	var c tgbotapi.Chattable
	if strings.HasPrefix(target, "@") {
		c = tgbotapi.NewMessageToChannel(target, body)
	} else {
		chatID, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return errors.NewInvalidRequestError("telegram target %q is neither a chat id nor an @channel", target)
		}
		c = tgbotapi.NewMessage(chatID, body)
	}
	return errors.Wrapf(send(c), "send to %s", target)
}

func (a *Adapter) consume(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			a.handleUpdate(&u)
		}
	}
}

func (a *Adapter) handleUpdate(u *tgbotapi.Update) {
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	a.EmitMessage(a.payload(u.UpdateID, msg, content))
}

func (a *Adapter) payload(updateID int, msg *tgbotapi.Message, content string) *platform.Payload {
	chat := msg.Chat

	var threadType message.ThreadType
	switch chat.Type {
	case "private":
		threadType = message.ThreadDM
	case "group", "supergroup":
		threadType = message.ThreadGroup
	case "channel":
		threadType = message.ThreadChannel
	default:
		threadType = message.ThreadDM
	}

	author := message.Author{}
	if msg.From != nil {
		author.Name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		author.Handle = msg.From.UserName
		if author.Handle == "" {
			author.Handle = strconv.FormatInt(msg.From.ID, 10)
		}
	} else {
		// Channel posts carry no sender; the channel itself authors them.
		author.Name = chat.Title
		author.Handle = chat.UserName
		if author.Handle == "" {
			author.Handle = strconv.FormatInt(chat.ID, 10)
		}
	}

	title := chat.Title
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}

	p := &platform.Payload{
		Kind:       message.KindTelegramMessage,
		Author:     author,
		Content:    content,
		CreatedAt:  int64(msg.Date) * 1000,
		PlatformID: strconv.Itoa(msg.MessageID),
		Thread: platform.ThreadHint{
			ID:    strconv.FormatInt(chat.ID, 10),
			Type:  threadType,
			Title: title,
		},
	}
	if msg.ReplyToMessage != nil {
		p.ReplyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	a.mu.Lock()
	source := a.self.UserName
	a.mu.Unlock()
	if source == "" {
		source = "bot"
	}

	id := syncstate.NewID("telegram", source, "updates")
	wm := syncstate.Sequence(int64(updateID))
	p.SyncID = id.String()
	p.Watermark = &wm
	return p
}
