// Package ingest turns adapter payloads into stored messages.
//
// The normalizer is the only writer of the message, account, and
// thread tables. Messages are content-addressed, so re-ingesting the
// same payload is a cheap no-op, and adapters are free to replay
// history after a crash. Applied per batch: sort by (created_at,
// platform_id), resolve the author's account and the conversation's
// thread, store the message, then advance the payload's sync
// watermark. A payload that cannot be fully materialized aborts the
// batch before its watermark moves, so nothing is ever skipped.
package ingest

import (
	"context"
	"database/sql"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/emailthread"
	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/syncstate"
)

// ErrNormalization marks payloads the normalizer could not materialize.
// Check with errors.Is. Callers must not advance watermarks past the
// failed payload. Alias of the shared normalization kind.
var ErrNormalization = errors.ErrNormalization

func normErr(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrNormalization)
}

const (
	resolveCacheTTL     = 5 * time.Minute
	resolveCacheCleanup = 10 * time.Minute
)

// BatchResult summarizes one IngestBatch call.
type BatchResult struct {
	Ingested   int `json:"ingested"`
	Duplicates int `json:"duplicates"`
}

// Normalizer converts payloads into Messages, Accounts, and Threads.
type Normalizer struct {
	accounts *AccountStore
	threads  *ThreadStore
	messages *MessageStore
	emails   *emailthread.Engine
	sync     *syncstate.Manager
	fetcher  *AttachmentFetcher
	cache    *gocache.Cache
	logger   *zap.SugaredLogger
}

// NewNormalizer creates a normalizer with its stores over db. sync may
// be nil when no watermarks should move (tests, backfills); fetcher may
// be nil to skip attachment downloads.
func NewNormalizer(db *sql.DB, sync *syncstate.Manager, fetcher *AttachmentFetcher, logger *zap.SugaredLogger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Normalizer{
		accounts: NewAccountStore(db),
		threads:  NewThreadStore(db),
		messages: NewMessageStore(db),
		emails:   emailthread.NewEngine(emailthread.NewStore(db), logger),
		sync:     sync,
		fetcher:  fetcher,
		cache:    gocache.New(resolveCacheTTL, resolveCacheCleanup),
		logger:   logger,
	}
}

// Accounts exposes the account store for read paths.
func (n *Normalizer) Accounts() *AccountStore { return n.accounts }

// Threads exposes the thread store for read paths.
func (n *Normalizer) Threads() *ThreadStore { return n.threads }

// Messages exposes the message store for read paths.
func (n *Normalizer) Messages() *MessageStore { return n.messages }

// IngestBatch applies payloads from one platform in canonical order:
// ascending created_at, ties broken by platform_id. Each payload's
// watermark advances only after its message is durably stored. The
// first unmaterializable payload aborts the batch with an
// ErrNormalization-marked error; earlier payloads keep their results.
func (n *Normalizer) IngestBatch(ctx context.Context, plat string, payloads []platform.Payload) (BatchResult, error) {
	var res BatchResult
	if len(payloads) == 0 {
		return res, nil
	}

	batch := make([]platform.Payload, len(payloads))
	copy(batch, payloads)
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].CreatedAt != batch[j].CreatedAt {
			return batch[i].CreatedAt < batch[j].CreatedAt
		}
		return batch[i].PlatformID < batch[j].PlatformID
	})

	for i := range batch {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrap(err, "ingest interrupted")
		}

		p := &batch[i]
		inserted, err := n.ingestOne(ctx, plat, p)
		if err != nil {
			return res, err
		}
		if inserted {
			res.Ingested++
		} else {
			res.Duplicates++
		}

		n.advanceWatermark(plat, p)
	}

	n.logger.Debugw("batch ingested",
		"platform", plat,
		"count", res.Ingested,
		"duplicates", res.Duplicates)
	return res, nil
}

func (n *Normalizer) ingestOne(ctx context.Context, plat string, p *platform.Payload) (bool, error) {
	accountID, err := n.resolveAccount(plat, p.Author)
	if err != nil {
		return false, normErr(err, "resolve %s account %q", plat, p.Author.Handle)
	}

	threadID, err := n.resolveThread(plat, p)
	if err != nil {
		return false, normErr(err, "resolve %s thread for message %q", plat, p.PlatformID)
	}

	m := &message.Message{
		AccountID:  accountID,
		Author:     p.Author,
		CreatedAt:  p.CreatedAt,
		ImportedAt: time.Now().UnixMilli(),
		Kind:       p.Kind,
		Content:    p.Content,
		Title:      p.Title,
		Refs: message.Refs{
			ThreadID: threadID,
			ReplyTo:  p.ReplyTo,
			RoomID:   p.Thread.RoomID,
			Mentions: p.Mentions,
		},
		Source: message.Source{
			Platform:   plat,
			PlatformID: p.PlatformID,
			URL:        p.URL,
		},
		Tags: p.Tags,
	}
	m.ID = m.ComputeID()

	inserted, err := n.messages.Upsert(m)
	if err != nil {
		return false, normErr(err, "store message %s", m.ID)
	}

	if err := n.threads.AddParticipant(threadID, accountID); err != nil {
		// The thread and message are durable; a missing participant
		// link degrades listings, not correctness
		n.logger.Warnw("participant link failed",
			"thread_id", threadID,
			"account_id", accountID,
			"error", err)
	}

	if inserted && n.fetcher != nil && len(p.Attachments) > 0 {
		n.fetchAttachments(ctx, m.ID, p.Attachments)
	}

	return inserted, nil
}

func (n *Normalizer) resolveAccount(plat string, author message.Author) (string, error) {
	key := "acct:" + plat + ":" + message.NormalizeHandle(plat, author.Handle)
	if cached, ok := n.cache.Get(key); ok {
		return cached.(string), nil
	}

	id, err := n.accounts.Resolve(plat, author.Handle, author.Name)
	if err != nil {
		return "", err
	}

	n.cache.Set(key, id, gocache.DefaultExpiration)
	return id, nil
}

func (n *Normalizer) resolveThread(plat string, p *platform.Payload) (string, error) {
	if p.Email != nil {
		return n.resolveEmailThread(plat, p)
	}

	conversation := p.Thread.ID
	if conversation == "" {
		// DM without an explicit conversation id: the peer's handle
		// names it
		conversation = message.NormalizeHandle(plat, p.Author.Handle)
	}
	if conversation == "" {
		return "", errors.NewInvalidRequestError("payload carries no conversation id")
	}

	threadID := plat + "_" + conversation
	key := "thread:" + threadID
	if _, ok := n.cache.Get(key); ok {
		return threadID, nil
	}

	_, err := n.threads.Ensure(&message.Thread{
		ID:    threadID,
		Title: p.Thread.Title,
		Type:  p.Thread.Type,
		Source: message.ThreadSource{
			Platform:   plat,
			PlatformID: p.Thread.ID,
			RoomID:     p.Thread.RoomID,
		},
		CreatedAt: p.CreatedAt,
	})
	if err != nil {
		return "", err
	}

	n.cache.Set(key, struct{}{}, gocache.DefaultExpiration)
	return threadID, nil
}

func (n *Normalizer) resolveEmailThread(plat string, p *platform.Payload) (string, error) {
	h := emailthread.Headers{
		MessageID:    p.Email.MessageID,
		InReplyTo:    p.Email.InReplyTo,
		References:   p.Email.References,
		Subject:      p.Email.Subject,
		Participants: p.Email.Participants,
		Date:         time.UnixMilli(p.CreatedAt),
	}

	a, err := n.emails.Resolve(h)
	if err != nil {
		return "", err
	}

	if a.NewThread {
		_, err := n.threads.Ensure(&message.Thread{
			ID:    a.ThreadID,
			Title: p.Email.Subject,
			Type:  message.ThreadTopic,
			Source: message.ThreadSource{
				Platform:   plat,
				PlatformID: a.Root,
			},
			CreatedAt: p.CreatedAt,
		})
		if err != nil {
			return "", err
		}
	}

	if err := n.emails.Record(a, h); err != nil {
		return "", err
	}

	return a.ThreadID, nil
}

// advanceWatermark moves the payload's sync position. The message is
// already durable at this point, so failures here only mean the same
// payload gets re-ingested and deduplicated after a restart; they are
// logged, never fatal.
func (n *Normalizer) advanceWatermark(plat string, p *platform.Payload) {
	if n.sync == nil || p.SyncID == "" || p.Watermark == nil {
		return
	}

	id, ok := syncstate.ParseID(p.SyncID)
	if !ok {
		n.logger.Warnw("payload carries malformed sync id",
			"platform", plat,
			"sync_id", p.SyncID)
		return
	}

	if err := n.sync.Advance(id, *p.Watermark); err != nil {
		if errors.Is(err, errors.ErrWatermarkRegression) {
			n.logger.Debugw("watermark already past payload", "sync_id", p.SyncID)
			return
		}
		n.logger.Warnw("watermark advance failed",
			"sync_id", p.SyncID,
			"error", err)
	}
}

func (n *Normalizer) fetchAttachments(ctx context.Context, messageID string, atts []platform.Attachment) {
	for _, att := range atts {
		if att.URL == "" && att.Data == nil {
			continue
		}

		blob, err := n.fetcher.Fetch(ctx, att)
		if err != nil {
			n.logger.Warnw("attachment fetch failed",
				"message_id", messageID,
				"url", att.URL,
				"error", err)
			continue
		}
		blob.MessageID = messageID

		if err := n.messages.AddBlob(blob); err != nil {
			n.logger.Warnw("attachment record failed",
				"message_id", messageID,
				"hash", blob.Hash,
				"error", err)
			continue
		}

		if err := n.messages.AppendTags(messageID, [][]string{{"blob", blob.Hash}}); err != nil {
			n.logger.Warnw("attachment tag failed",
				"message_id", messageID,
				"hash", blob.Hash,
				"error", err)
		}
	}
}
