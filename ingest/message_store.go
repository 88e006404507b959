package ingest

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
)

// MessageStore persists normalized messages and attachment blobs.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a message store over an open database.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Upsert stores a message under its content address. A new id inserts
// the row and bumps the thread's message_count and last_message_at in
// the same transaction. An existing id updates only imported_at and
// merges tags additively; every other field keeps its stored value.
// Returns true when a row was inserted.
func (s *MessageStore) Upsert(m *message.Message) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, errors.Wrap(err, "begin message upsert")
	}
	defer tx.Rollback()

	var storedTags string
	err = tx.QueryRow("SELECT tags FROM messages WHERE id = ?", m.ID).Scan(&storedTags)

	switch {
	case err == sql.ErrNoRows:
		if err := insertMessage(tx, m); err != nil {
			return false, err
		}
		if m.Refs.ThreadID != "" {
			if err := bumpThread(tx, m.Refs.ThreadID, m.CreatedAt); err != nil {
				return false, err
			}
		}
		if err := tx.Commit(); err != nil {
			return false, errors.Wrapf(err, "commit message %s", m.ID)
		}
		return true, nil

	case err != nil:
		return false, errors.Wrapf(err, "lookup message %s", m.ID)
	}

	// Duplicate ingest: only the monotonic fields move
	existing := &message.Message{}
	if err := json.Unmarshal([]byte(storedTags), &existing.Tags); err != nil {
		return false, errors.Wrapf(err, "decode tags for %s", m.ID)
	}
	existing.MergeTags(m.Tags)

	merged, err := json.Marshal(existing.Tags)
	if err != nil {
		return false, errors.Wrapf(err, "encode tags for %s", m.ID)
	}

	_, err = tx.Exec(
		"UPDATE messages SET imported_at = ?, tags = ? WHERE id = ?",
		m.ImportedAt, string(merged), m.ID,
	)
	if err != nil {
		return false, errors.Wrapf(err, "refresh message %s", m.ID)
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrapf(err, "commit message %s", m.ID)
	}
	return false, nil
}

func insertMessage(tx *sql.Tx, m *message.Message) error {
	query := `
		INSERT INTO messages (
			id, account_id, author_name, author_handle, author_did,
			created_at, imported_at, kind, content, title,
			thread_id, reply_to, room_id, mentions,
			platform, platform_id, url, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	mentions, err := json.Marshal(m.Refs.Mentions)
	if err != nil {
		return errors.Wrapf(err, "encode mentions for %s", m.ID)
	}
	if m.Refs.Mentions == nil {
		mentions = []byte("[]")
	}

	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return errors.Wrapf(err, "encode tags for %s", m.ID)
	}
	if m.Tags == nil {
		tags = []byte("[]")
	}

	_, err = tx.Exec(query,
		m.ID,
		nilIfEmpty(m.AccountID),
		m.Author.Name,
		m.Author.Handle,
		m.Author.DID,
		m.CreatedAt,
		m.ImportedAt,
		int(m.Kind),
		m.Content,
		m.Title,
		nilIfEmpty(m.Refs.ThreadID),
		nilIfEmpty(m.Refs.ReplyTo),
		nilIfEmpty(m.Refs.RoomID),
		string(mentions),
		m.Source.Platform,
		nilIfEmpty(m.Source.PlatformID),
		nilIfEmpty(m.Source.URL),
		string(tags),
	)
	if err != nil {
		return errors.Wrapf(err, "insert message %s", m.ID)
	}
	return nil
}

func bumpThread(tx *sql.Tx, threadID string, createdAt int64) error {
	query := `
		UPDATE threads
		SET message_count = message_count + 1,
		    last_message_at = CASE
		        WHEN last_message_at IS NULL OR last_message_at < ? THEN ?
		        ELSE last_message_at
		    END
		WHERE id = ?
	`
	if _, err := tx.Exec(query, createdAt, createdAt, threadID); err != nil {
		return errors.Wrapf(err, "bump thread %s", threadID)
	}
	return nil
}

// AppendTags merges tags onto a stored message.
func (s *MessageStore) AppendTags(id string, tags [][]string) error {
	if len(tags) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tag append")
	}
	defer tx.Rollback()

	var storedTags string
	err = tx.QueryRow("SELECT tags FROM messages WHERE id = ?", id).Scan(&storedTags)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.NewNotFoundError("message %s", id)
		}
		return errors.Wrapf(err, "lookup message %s", id)
	}

	m := &message.Message{}
	if err := json.Unmarshal([]byte(storedTags), &m.Tags); err != nil {
		return errors.Wrapf(err, "decode tags for %s", id)
	}
	if !m.MergeTags(tags) {
		return nil
	}

	merged, err := json.Marshal(m.Tags)
	if err != nil {
		return errors.Wrapf(err, "encode tags for %s", id)
	}
	if _, err := tx.Exec("UPDATE messages SET tags = ? WHERE id = ?", string(merged), id); err != nil {
		return errors.Wrapf(err, "update tags for %s", id)
	}

	return errors.Wrap(tx.Commit(), "commit tag append")
}

// Get returns one message.
func (s *MessageStore) Get(id string) (*message.Message, error) {
	query := selectMessages + " WHERE id = ?"

	m, err := scanMessage(s.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("message %s", id)
		}
		return nil, errors.Wrapf(err, "load message %s", id)
	}
	return m, nil
}

// ListThread returns a thread's messages in storage order: ascending
// created_at with platform_id breaking ties.
func (s *MessageStore) ListThread(threadID string, limit int) ([]*message.Message, error) {
	query := selectMessages + `
		WHERE thread_id = ?
		ORDER BY created_at, platform_id
		LIMIT ?
	`
	return s.queryMessages(query, threadID, limit)
}

// Search runs a full-text query over content, title, and tags.
// Results come back most relevant first.
func (s *MessageStore) Search(query string, limit int) ([]*message.Message, error) {
	if query == "" {
		return nil, errors.NewInvalidRequestError("empty search query")
	}

	sqlQuery := `
		SELECT m.id, m.account_id, m.author_name, m.author_handle, m.author_did,
		       m.created_at, m.imported_at, m.kind, m.content, m.title,
		       m.thread_id, m.reply_to, m.room_id, m.mentions,
		       m.platform, m.platform_id, m.url, m.tags
		FROM messages m
		JOIN (
			SELECT rowid, rank FROM messages_fts WHERE messages_fts MATCH ? ORDER BY rank LIMIT ?
		) hits ON m.rowid = hits.rowid
		ORDER BY hits.rank
	`
	return s.queryMessages(sqlQuery, query, limit)
}

// Blob is one stored attachment.
type Blob struct {
	Hash        string `json:"hash"`
	MessageID   string `json:"message_id"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
	LocalPath   string `json:"local_path"`
	FetchedAt   int64  `json:"fetched_at"`
}

// AddBlob records a fetched attachment. The same content hash seen
// again keeps its first row.
func (s *MessageStore) AddBlob(b *Blob) error {
	query := `
		INSERT INTO content_blobs (hash, message_id, filename, content_type, size_bytes, local_path, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`
	fetchedAt := b.FetchedAt
	if fetchedAt == 0 {
		fetchedAt = time.Now().UnixMilli()
	}
	_, err := s.db.Exec(query, b.Hash, b.MessageID, b.Filename, b.ContentType, b.SizeBytes, b.LocalPath, fetchedAt)
	if err != nil {
		return errors.Wrapf(err, "record blob %s", b.Hash)
	}
	return nil
}

// Blobs returns the attachments recorded for a message.
func (s *MessageStore) Blobs(messageID string) ([]*Blob, error) {
	query := `
		SELECT hash, message_id, filename, content_type, size_bytes, local_path, fetched_at
		FROM content_blobs
		WHERE message_id = ?
		ORDER BY hash
	`

	rows, err := s.db.Query(query, messageID)
	if err != nil {
		return nil, errors.Wrapf(err, "list blobs for %s", messageID)
	}
	defer rows.Close()

	var blobs []*Blob
	for rows.Next() {
		var b Blob
		var fetchedAt sql.NullInt64
		if err := rows.Scan(&b.Hash, &b.MessageID, &b.Filename, &b.ContentType, &b.SizeBytes, &b.LocalPath, &fetchedAt); err != nil {
			return nil, errors.Wrap(err, "scan blob")
		}
		b.FetchedAt = fetchedAt.Int64
		blobs = append(blobs, &b)
	}

	return blobs, rows.Err()
}

const selectMessages = `
	SELECT id, account_id, author_name, author_handle, author_did,
	       created_at, imported_at, kind, content, title,
	       thread_id, reply_to, room_id, mentions,
	       platform, platform_id, url, tags
	FROM messages
`

func (s *MessageStore) queryMessages(query string, args ...interface{}) ([]*message.Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (*message.Message, error) {
	var m message.Message
	var kind int
	var mentions, tags string
	var accountID, threadID, replyTo, roomID, platformID, url sql.NullString

	err := row.Scan(
		&m.ID,
		&accountID,
		&m.Author.Name,
		&m.Author.Handle,
		&m.Author.DID,
		&m.CreatedAt,
		&m.ImportedAt,
		&kind,
		&m.Content,
		&m.Title,
		&threadID,
		&replyTo,
		&roomID,
		&mentions,
		&m.Source.Platform,
		&platformID,
		&url,
		&tags,
	)
	if err != nil {
		return nil, err
	}

	m.AccountID = accountID.String
	m.Kind = message.Kind(kind)
	m.Refs.ThreadID = threadID.String
	m.Refs.ReplyTo = replyTo.String
	m.Refs.RoomID = roomID.String
	m.Source.PlatformID = platformID.String
	m.Source.URL = url.String

	if err := json.Unmarshal([]byte(mentions), &m.Refs.Mentions); err != nil {
		return nil, errors.Wrapf(err, "decode mentions for %s", m.ID)
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, errors.Wrapf(err, "decode tags for %s", m.ID)
	}

	return &m, nil
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
