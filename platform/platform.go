// Package platform defines the adapter contract every messaging
// platform implements and the manager that runs them.
//
// Adapters translate between a remote service and the daemon: they own
// the connection, stream inbound activity as Payloads on their event
// channel, and pass outbound sends through. They never touch the
// message stores. The manager owns adapter lifecycles: priority-ordered
// startup, backoff-scheduled recovery, and the daemon-wide event bus.
package platform

import (
	"context"
	"time"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/syncstate"
)

// ErrUnsupported is returned by Send on platforms that cannot send.
var ErrUnsupported = errors.New("operation not supported on this platform")

// Adapter is the contract each platform implements.
type Adapter interface {
	// ID is the platform identifier ("signal", "gmail", ...).
	ID() string

	// IsAuthenticated is a cheap credential check. It may perform a
	// lightweight handshake but must not start streaming.
	IsAuthenticated(ctx context.Context) bool

	// Start begins streaming. It emits EventConnected once ready and
	// EventError followed by exit on terminal failure.
	Start(ctx context.Context) error

	// Stop closes resources. Idempotent: calls after the first return
	// nil without side effects.
	Stop(ctx context.Context) error

	IsConnected() bool

	Stats() Stats

	// Events delivers this adapter's events in issue order. The
	// channel closes when the adapter stops permanently.
	Events() <-chan Event

	// Send passes a message through to the platform. Adapters without
	// an outbound path return ErrUnsupported.
	Send(ctx context.Context, target, body string) error
}

// Stats is an adapter's self-reported activity snapshot.
type Stats struct {
	MessageCount int        `json:"message_count"`
	ErrorCount   int        `json:"error_count"`
	LastMessage  *time.Time `json:"last_message,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	IsConnected  bool       `json:"is_connected"`
}

// EventType discriminates adapter events.
type EventType string

// Adapter event types.
const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventMessage      EventType = "message"
	// EventQR is the WhatsApp pairing state: authentication needs a QR
	// scan before the expiry.
	EventQR EventType = "qr"
)

// Event is one adapter emission. Payload is set for EventMessage, Err
// for EventError, QR for EventQR.
type Event struct {
	Type     EventType
	Platform string
	Err      error
	Payload  *Payload
	QR       *QRCode
}

// QRCode carries WhatsApp pairing data.
type QRCode struct {
	Data      string
	ExpiresAt time.Time
}

// Payload is one inbound message as the adapter saw it, before
// normalization. The normalizer turns it into a Message plus its
// account and thread rows.
type Payload struct {
	Kind       message.Kind
	Author     message.Author
	Content    string
	Title      string
	CreatedAt  int64 // unix ms
	PlatformID string
	URL        string

	// ReplyTo and Mentions are platform-native message/account refs.
	ReplyTo  string
	Mentions []string

	// Thread locates the conversation for chat platforms. Email
	// platforms leave it zero and fill Email instead.
	Thread ThreadHint

	// Email carries the threading headers for email payloads.
	Email *EmailMeta

	// Tags to stamp on the message (folder labels, list names).
	Tags [][]string

	Attachments []Attachment

	// SyncID and Watermark tell the normalizer which watermark this
	// payload advances once it is durably stored. Empty SyncID means
	// the adapter tracks progress some other way.
	SyncID    string
	Watermark *syncstate.Watermark
}

// ThreadHint is the adapter's view of the conversation a payload
// belongs to.
type ThreadHint struct {
	// ID is the platform conversation id: group id, chat id, channel
	// id, or normalized peer for DMs.
	ID    string
	Type  message.ThreadType
	Title string
	// RoomID is the container above the thread where the platform has
	// one (Discord guild id).
	RoomID string
}

// EmailMeta is the header set the threading engine needs.
type EmailMeta struct {
	MessageID    string
	InReplyTo    string
	References   []string
	Subject      string
	Participants []string
}

// Attachment references platform-hosted content by URL, or carries it
// inline when the adapter already holds the bytes (email bodies fetched
// over IMAP). Fetching is best-effort and happens during normalization.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	SizeBytes   int64

	// Data, when set, is stored directly; URL is ignored.
	Data []byte
}
