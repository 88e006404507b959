// Package emailthread files email messages into conversation threads.
//
// Email has no first-class thread identifier, so the engine
// reconstructs one from headers: the In-Reply-To link when the parent
// is known, the References chain when only an ancestor is, and a
// normalized subject plus participant set as the last resort for
// clients that strip both. New threads get an id derived from the
// conversation root's Message-ID, so re-ingesting the same mailbox
// rebuilds identical thread ids.
package emailthread

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
)

// ThreadPrefix starts every email thread id.
const ThreadPrefix = "email_"

// Headers is the per-message input to thread assignment.
type Headers struct {
	MessageID    string
	InReplyTo    string
	References   []string // oldest first
	Subject      string
	Participants []string // from plus all to
	Date         time.Time
}

// Assignment is the outcome of resolving Headers to a thread.
type Assignment struct {
	// ThreadID the message belongs to.
	ThreadID string
	// MessageID echoes the input, or a synthesized id when absent.
	MessageID string
	// NewThread is true when no existing thread matched. The caller
	// must create the thread row before calling Record.
	NewThread bool
	// Root is the Message-ID the thread id was derived from. Only set
	// for new threads.
	Root string
}

// Engine assigns email messages to threads using the persisted maps.
type Engine struct {
	store  *Store
	logger *zap.SugaredLogger
}

// NewEngine creates a threading engine over the given store.
func NewEngine(store *Store, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{store: store, logger: logger}
}

// Resolve determines the thread for h without writing anything. The
// rules apply in order and the first match wins: In-Reply-To, the
// References chain oldest first, the subject fallback, then a new
// thread rooted at references[0] or the message's own id.
//
// Resolve is deterministic over the persisted maps: identical headers
// against identical map state always yield the same assignment.
func (e *Engine) Resolve(h Headers) (Assignment, error) {
	a := Assignment{MessageID: h.MessageID}
	if a.MessageID == "" {
		a.MessageID = synthesizeMessageID(h.Date)
		e.logger.Debugw("email missing Message-ID, synthesized",
			"message_id", a.MessageID)
	}

	if h.InReplyTo != "" {
		threadID, ok, err := e.store.ThreadForMessage(h.InReplyTo)
		if err != nil {
			return Assignment{}, err
		}
		if ok {
			a.ThreadID = threadID
			return a, nil
		}
	}

	for _, ref := range h.References {
		if ref == "" {
			continue
		}
		threadID, ok, err := e.store.ThreadForMessage(ref)
		if err != nil {
			return Assignment{}, err
		}
		if ok {
			a.ThreadID = threadID
			return a, nil
		}
	}

	if key, ok := subjectKey(h); ok {
		threadID, found, err := e.store.ThreadForSubject(key)
		if err != nil {
			return Assignment{}, err
		}
		if found {
			a.ThreadID = threadID
			return a, nil
		}
	}

	root := a.MessageID
	if len(h.References) > 0 && h.References[0] != "" {
		root = h.References[0]
	}
	a.ThreadID = ThreadPrefix + message.HashPrefix(root)
	a.NewThread = true
	a.Root = root
	return a, nil
}

// Record persists the maps for a resolved message: its Message-ID, and
// the subject key when the subject survives normalization. For a new
// thread the caller must have created the thread row first, the maps
// reference it.
func (e *Engine) Record(a Assignment, h Headers) error {
	if a.ThreadID == "" {
		return errors.NewInvalidRequestError("cannot record unresolved assignment")
	}

	if err := e.store.MapMessage(a.MessageID, a.ThreadID); err != nil {
		return err
	}

	if key, ok := subjectKey(h); ok {
		if err := e.store.MapSubject(key, a.ThreadID); err != nil {
			return err
		}
	}

	return nil
}

// NormalizeSubject strips reply and forward prefixes and bracketed
// list tags repeatedly, then trims and lowercases. "Re: [team] Weekly"
// and "weekly" normalize to the same string.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "re:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(lower, "fwd:"):
			s = strings.TrimSpace(s[4:])
		case strings.HasPrefix(lower, "fw:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(s, "["):
			end := strings.Index(s, "]")
			if end < 0 {
				return strings.ToLower(s)
			}
			s = strings.TrimSpace(s[end+1:])
		default:
			return strings.ToLower(s)
		}
	}
}

// ParticipantsKey folds a participant list into a canonical key:
// sorted unique lowercased addresses joined by commas. Sender and
// receiver swapping places between messages yields the same key.
func ParticipantsKey(addrs []string) string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// subjectKey builds the fallback map key. ok is false when the subject
// normalizes to nothing, those messages never match by subject.
func subjectKey(h Headers) (string, bool) {
	subject := NormalizeSubject(h.Subject)
	if subject == "" {
		return "", false
	}
	return subject + "|" + ParticipantsKey(h.Participants), true
}

func synthesizeMessageID(date time.Time) string {
	if date.IsZero() {
		date = time.Now()
	}
	return fmt.Sprintf("generated_%d_%s", date.UnixMilli(), uuid.NewString()[:8])
}
