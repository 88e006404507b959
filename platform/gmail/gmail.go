// Package gmail polls an IMAP mailbox and streams its mail as
// messages. Fetching is two-phase: an envelope scan above the UID
// watermark first, then paced body fetches for messages whose
// Message-ID is not already known. Outbound mail goes through SMTP.
package gmail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/syncstate"
)

const (
	// DefaultIMAPHost is Gmail's IMAP endpoint.
	DefaultIMAPHost = "imap.gmail.com:993"

	// DefaultSMTPHost and DefaultSMTPPort are Gmail's submission
	// endpoint.
	DefaultSMTPHost = "smtp.gmail.com"
	DefaultSMTPPort = 587

	// DefaultMailbox is the folder synced.
	DefaultMailbox = "INBOX"

	// DefaultPollInterval is the mailbox check cadence.
	DefaultPollInterval = 60 * time.Second

	// DefaultFetchGap is the minimum spacing between IMAP fetch
	// commands, keeping large backfills under the provider's rate
	// ceiling.
	DefaultFetchGap = 200 * time.Millisecond

	commandTimeout = 90 * time.Second
)

// PeekFunc reports the stored watermark for a sync scope. Wired to
// syncstate.Manager.Peek.
type PeekFunc func(id syncstate.ID) (syncstate.Watermark, bool, error)

// SeenFunc reports whether a Message-ID is already ingested. Wired to
// the email threading store; used to skip body downloads, never to
// skip storage.
type SeenFunc func(messageID string) (bool, error)

// Config holds the gmail adapter settings.
type Config struct {
	// Address and Password authenticate both IMAP and SMTP. For Gmail
	// this is an app password.
	Address  string
	Password string

	IMAPHost string
	SMTPHost string
	SMTPPort int

	Mailbox      string
	PollInterval time.Duration
	FetchGap     time.Duration

	Peek PeekFunc
	Seen SeenFunc
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		IMAPHost:     DefaultIMAPHost,
		SMTPHost:     DefaultSMTPHost,
		SMTPPort:     DefaultSMTPPort,
		Mailbox:      DefaultMailbox,
		PollInterval: DefaultPollInterval,
		FetchGap:     DefaultFetchGap,
	}
}

// Adapter syncs one mailbox.
type Adapter struct {
	*platform.Emitter

	cfg     Config
	dialer  func(ctx context.Context) (imapClient, error)
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	client imapClient
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the adapter.
func New(cfg Config, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.IMAPHost == "" {
		cfg.IMAPHost = DefaultIMAPHost
	}
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = DefaultSMTPHost
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = DefaultSMTPPort
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = DefaultMailbox
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FetchGap <= 0 {
		cfg.FetchGap = DefaultFetchGap
	}

	a := &Adapter{
		Emitter: platform.NewEmitter("gmail"),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.FetchGap), 1),
		logger:  logger,
	}
	a.dialer = a.connectIMAP
	return a
}

func (a *Adapter) ID() string { return "gmail" }

// IsAuthenticated reports whether credentials are configured. The real
// check happens at Start; an offline daemon should not block discovery
// on a network round trip.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	return a.cfg.Address != "" && a.cfg.Password != ""
}

// Start logs in over IMAP and begins the poll loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	if !a.IsAuthenticated(ctx) {
		return errors.Mark(errors.New("gmail credentials not configured"), errors.ErrConfig)
	}

	c, err := a.dialer(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.client = c
	a.cancel = cancel

	a.EmitConnected()
	a.logger.Infow("imap connected",
		"host", a.cfg.IMAPHost,
		"account", a.cfg.Address,
		"mailbox", a.cfg.Mailbox)

	a.wg.Add(1)
	go a.run(runCtx, c)
	return nil
}

// Stop logs out and ends the poll loop.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	c := a.client
	cancel := a.cancel
	a.client = nil
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	if c != nil {
		c.Logout()
	}
	a.wg.Wait()
	a.SetConnected(false)
	return nil
}

func (a *Adapter) connectIMAP(ctx context.Context) (imapClient, error) {
	c, err := client.DialTLS(a.cfg.IMAPHost, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "dial %s", a.cfg.IMAPHost), errors.ErrTransientNetwork)
	}
	c.Timeout = commandTimeout

	if err := c.Login(a.cfg.Address, a.cfg.Password); err != nil {
		c.Logout()
		return nil, errors.Mark(errors.Wrapf(err, "imap login %s", a.cfg.Address), errors.ErrAuth)
	}
	return c, nil
}

func (a *Adapter) run(ctx context.Context, c imapClient) {
	defer a.wg.Done()

	if err := a.syncOnce(ctx, c); err != nil {
		a.lost(ctx, c, err)
		return
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.syncOnce(ctx, c); err != nil {
				a.lost(ctx, c, err)
				return
			}
		}
	}
}

// lost tears the adapter down after a transport failure, unless Stop
// already ran.
func (a *Adapter) lost(ctx context.Context, c imapClient, err error) {
	if ctx.Err() != nil {
		return
	}

	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.client = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.Logout()

	a.logger.Warnw("imap sync failed", "error", err)
	a.EmitError(errors.Wrap(err, "imap sync"))
	a.SetConnected(false)
	a.EmitDisconnected()
}

// syncOnce runs one poll: select the mailbox, scan envelopes above the
// watermark, drop already-known Message-IDs, fetch the rest in full,
// and emit them oldest first.
func (a *Adapter) syncOnce(ctx context.Context, c imapClient) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	status, err := c.Select(a.cfg.Mailbox, true)
	if err != nil {
		return errors.Wrapf(err, "select %s", a.cfg.Mailbox)
	}
	if status.Messages == 0 {
		return nil
	}
	validity := status.UidValidity

	lastUID := a.lastUID(validity)

	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	cands, err := fetchCandidates(c, lastUID)
	if err != nil {
		return err
	}

	var want []uint32
	skipped := 0
	for _, cand := range cands {
		if cand.messageID != "" && a.cfg.Seen != nil {
			seen, err := a.cfg.Seen(cand.messageID)
			if err == nil && seen {
				skipped++
				continue
			}
		}
		want = append(want, cand.uid)
	}
	if len(want) == 0 {
		if skipped > 0 {
			a.logger.Debugw("all new envelopes already known", "skipped", skipped)
		}
		return nil
	}

	fulls, err := fetchBodies(ctx, c, a.limiter, want)
	if err != nil {
		return err
	}

	for _, fm := range fulls {
		p, err := a.buildPayload(fm, validity)
		if err != nil {
			a.logger.Warnw("unparseable message skipped",
				"uid", fm.uid,
				"error", err)
			continue
		}
		a.EmitMessage(p)
	}

	a.logger.Debugw("mailbox synced",
		"mailbox", a.cfg.Mailbox,
		"fetched", len(fulls),
		"skipped", skipped,
		"last_uid", lastUID)
	return nil
}

func (a *Adapter) syncID() syncstate.ID {
	return syncstate.NewID("gmail", a.cfg.Address, a.cfg.Mailbox)
}

// lastUID reads the stored watermark. A validity mismatch means the
// mailbox was regenerated and every UID is new again; dedup by content
// address keeps the refetch harmless.
func (a *Adapter) lastUID(validity uint32) uint32 {
	if a.cfg.Peek == nil {
		return 0
	}
	wm, ok, err := a.cfg.Peek(a.syncID())
	if err != nil {
		a.logger.Warnw("watermark read failed", "error", err)
		return 0
	}
	if !ok || wm.Type != syncstate.TypeUID || wm.UIDValidity != validity {
		return 0
	}
	return wm.UID
}

func (a *Adapter) buildPayload(fm fullMessage, validity uint32) (*platform.Payload, error) {
	pm, err := parseMessage(fm.raw)
	if err != nil {
		return nil, err
	}

	created := pm.date
	if created.IsZero() {
		created = fm.internalDate
	}
	if created.IsZero() {
		created = time.Now()
	}

	author := message.Author{Name: pm.fromName, Handle: pm.fromAddress}
	if author.Handle == "" {
		author.Handle = "unknown"
	}

	platformID := pm.meta.MessageID
	if platformID == "" {
		platformID = fmt.Sprintf("imap-%d-%d", validity, fm.uid)
	}

	meta := pm.meta
	wm := syncstate.UID(fm.uid, validity)

	p := &platform.Payload{
		Kind:       message.KindEmailMessage,
		Author:     author,
		Content:    pm.body,
		Title:      pm.subject,
		CreatedAt:  created.UnixMilli(),
		PlatformID: platformID,
		Email:      &meta,
		Tags:       [][]string{{"mailbox", a.cfg.Mailbox}},
		SyncID:     a.syncID().String(),
		Watermark:  &wm,
	}

	// The unmodified wire form rides along so the archive keeps what
	// the server delivered, not just our parse of it.
	p.Attachments = append(p.Attachments, platform.Attachment{
		Filename:    fmt.Sprintf("%d.eml", fm.uid),
		ContentType: "message/rfc822",
		SizeBytes:   int64(len(fm.raw)),
		Data:        fm.raw,
	})
	p.Attachments = append(p.Attachments, pm.attachments...)

	return p, nil
}
