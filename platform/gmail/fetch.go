package gmail

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"golang.org/x/time/rate"

	"github.com/teranos/messagesd/errors"
)

const (
	// envelopeBuffer is the phase-one stream depth.
	envelopeBuffer = 50

	// fullFetchBatch is how many bodies one FETCH asks for.
	fullFetchBatch = 15

	chunkRetries = 2
)

var retryPause = time.Second

// imapClient is the slice of go-imap's client the fetch path needs.
type imapClient interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

type candidate struct {
	uid       uint32
	messageID string
}

type fullMessage struct {
	uid          uint32
	raw          []byte
	internalDate time.Time
}

// fetchCandidates scans envelopes above lastUID and returns new uids
// with their Message-IDs, ascending. The n:* range always includes the
// highest existing UID, so results at or below the watermark are
// dropped here.
func fetchCandidates(c imapClient, lastUID uint32) ([]candidate, error) {
	seqset := new(imap.SeqSet)
	seqset.AddRange(lastUID+1, 0)

	ch := make(chan *imap.Message, envelopeBuffer)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope}, ch)
	}()

	var out []candidate
	for m := range ch {
		if m.Uid <= lastUID {
			continue
		}
		var mid string
		if m.Envelope != nil {
			mid = m.Envelope.MessageId
		}
		out = append(out, candidate{uid: m.Uid, messageID: mid})
	}
	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "fetch envelopes")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out, nil
}

// fetchBodies downloads full messages for uids in paced batches,
// ascending.
func fetchBodies(ctx context.Context, c imapClient, limiter *rate.Limiter, uids []uint32) ([]fullMessage, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	var out []fullMessage
	for _, chunk := range chunkUIDs(uids, fullFetchBatch) {
		msgs, err := fetchChunkWithRetry(ctx, c, limiter, chunk, items, section)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out, nil
}

// fetchChunkWithRetry retries a failed batch twice, then falls back to
// one-by-one fetches for servers that choke on multi-uid sets.
func fetchChunkWithRetry(ctx context.Context, c imapClient, limiter *rate.Limiter, chunk []uint32, items []imap.FetchItem, section *imap.BodySectionName) ([]fullMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= chunkRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryPause):
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		msgs, err := fetchChunk(c, chunk, items, section)
		if err == nil {
			return msgs, nil
		}
		lastErr = err
	}
	if len(chunk) == 1 {
		return nil, errors.Wrapf(lastErr, "fetch uid %d", chunk[0])
	}

	var out []fullMessage
	for _, uid := range chunk {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		msgs, err := fetchChunk(c, []uint32{uid}, items, section)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch uid %d", uid)
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func fetchChunk(c imapClient, uids []uint32, items []imap.FetchItem, section *imap.BodySectionName) ([]fullMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	var out []fullMessage
	var readErr error
	for m := range ch {
		if readErr != nil {
			continue
		}
		lit := m.GetBody(section)
		if lit == nil {
			continue
		}
		raw, err := io.ReadAll(lit)
		if err != nil {
			readErr = errors.Wrapf(err, "read body uid %d", m.Uid)
			continue
		}
		out = append(out, fullMessage{uid: m.Uid, raw: raw, internalDate: m.InternalDate})
	}

	if err := <-done; err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	return out, nil
}

func chunkUIDs(uids []uint32, n int) [][]uint32 {
	var chunks [][]uint32
	for len(uids) > n {
		chunks = append(chunks, uids[:n])
		uids = uids[n:]
	}
	if len(uids) > 0 {
		chunks = append(chunks, uids)
	}
	return chunks
}
