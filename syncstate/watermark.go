package syncstate

import (
	"strings"

	"github.com/teranos/messagesd/errors"
)

// Type discriminates the watermark union.
type Type string

// Watermark variants.
const (
	TypeTimestamp Type = "timestamp"
	TypeMessageID Type = "message_id"
	TypeUID       Type = "uid"
	TypeSequence  Type = "sequence"
	TypeCursor    Type = "cursor"
	TypeComposite Type = "composite"
)

// Watermark records how far a sync scope has progressed. Only the
// fields of the active variant are meaningful; json.Marshal of a
// Watermark is canonical (fixed field order, sorted composite keys), so
// the serialized form is stable for identical values.
type Watermark struct {
	Type Type `json:"type"`

	// timestamp, also the optional ordering hint for message_id
	Timestamp int64 `json:"timestamp,omitempty"`

	// message_id
	MessageID string `json:"message_id,omitempty"`

	// uid: IMAP UID scoped to a mailbox validity generation
	UID         uint32 `json:"uid,omitempty"`
	UIDValidity uint32 `json:"uid_validity,omitempty"`

	// sequence
	Sequence int64 `json:"sequence,omitempty"`

	// cursor: opaque provider token
	Cursor string `json:"cursor,omitempty"`

	// composite: independent progress per sub-scope
	Composite map[string]Watermark `json:"composite,omitempty"`
}

// Timestamp returns a wall-clock watermark in unix milliseconds.
func Timestamp(ms int64) Watermark {
	return Watermark{Type: TypeTimestamp, Timestamp: ms}
}

// MessageID returns a last-processed-message watermark. ts is the
// message's timestamp in unix milliseconds when the platform provides
// one, zero otherwise.
func MessageID(id string, ts int64) Watermark {
	return Watermark{Type: TypeMessageID, MessageID: id, Timestamp: ts}
}

// UID returns an IMAP UID watermark bound to a mailbox validity.
func UID(uid, validity uint32) Watermark {
	return Watermark{Type: TypeUID, UID: uid, UIDValidity: validity}
}

// Sequence returns a numeric sequence watermark.
func Sequence(n int64) Watermark {
	return Watermark{Type: TypeSequence, Sequence: n}
}

// Cursor returns an opaque pagination cursor watermark.
func Cursor(token string) Watermark {
	return Watermark{Type: TypeCursor, Cursor: token}
}

// Composite returns a multi-scope watermark, one sub-watermark per key.
func Composite(parts map[string]Watermark) Watermark {
	return Watermark{Type: TypeComposite, Composite: parts}
}

// Validate reports whether the watermark carries a known type.
func (w Watermark) Validate() error {
	switch w.Type {
	case TypeTimestamp, TypeMessageID, TypeUID, TypeSequence, TypeCursor, TypeComposite:
		return nil
	}
	return errors.NewInvalidRequestError("unknown watermark type %q", string(w.Type))
}

// Compare orders next against prev under the active variant's rules.
// Returns 1 when next is strictly ahead, 0 when it names the same
// position, and -1 when it falls behind. Variants must match.
//
// A uid watermark with a different validity is a new mailbox
// generation and always compares ahead. A cursor is opaque, so any
// changed token is trusted as progress. A message_id without usable
// timestamps on both sides falls back to the platform delivery order:
// a changed id counts as progress.
func Compare(prev, next Watermark) (int, error) {
	if prev.Type != next.Type {
		return 0, errors.NewInvalidRequestError(
			"cannot compare %s watermark against %s", string(next.Type), string(prev.Type))
	}

	switch prev.Type {
	case TypeTimestamp:
		return cmpInt64(next.Timestamp, prev.Timestamp), nil

	case TypeMessageID:
		if prev.MessageID == next.MessageID {
			return 0, nil
		}
		if prev.Timestamp > 0 && next.Timestamp > 0 {
			if c := cmpInt64(next.Timestamp, prev.Timestamp); c != 0 {
				return c, nil
			}
			return strings.Compare(next.MessageID, prev.MessageID), nil
		}
		return 1, nil

	case TypeUID:
		if prev.UIDValidity != next.UIDValidity {
			return 1, nil
		}
		switch {
		case next.UID > prev.UID:
			return 1, nil
		case next.UID < prev.UID:
			return -1, nil
		}
		return 0, nil

	case TypeSequence:
		return cmpInt64(next.Sequence, prev.Sequence), nil

	case TypeCursor:
		if prev.Cursor == next.Cursor {
			return 0, nil
		}
		return 1, nil

	case TypeComposite:
		progressed := false
		for key, nw := range next.Composite {
			pw, ok := prev.Composite[key]
			if !ok {
				progressed = true
				continue
			}
			c, err := Compare(pw, nw)
			if err != nil {
				return 0, errors.Wrapf(err, "composite key %q", key)
			}
			if c < 0 {
				return -1, nil
			}
			if c > 0 {
				progressed = true
			}
		}
		if progressed {
			return 1, nil
		}
		return 0, nil
	}

	return 0, errors.NewInvalidRequestError("unknown watermark type %q", string(prev.Type))
}

func cmpInt64(a, b int64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}
