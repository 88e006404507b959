package emailthread

import (
	"database/sql"

	"github.com/teranos/messagesd/errors"
)

// Store persists the two threading indexes. Both maps are first-write
// wins: a Message-ID or subject key never moves to a different thread
// once recorded.
type Store struct {
	db *sql.DB
}

// NewStore creates a threading store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ThreadForMessage looks up the thread a Message-ID was filed under.
// Misses are the common case, so absence is ok=false rather than an error.
func (s *Store) ThreadForMessage(messageID string) (string, bool, error) {
	var threadID string
	err := s.db.QueryRow(
		"SELECT thread_id FROM email_message_threads WHERE message_id = ?",
		messageID,
	).Scan(&threadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "lookup message thread %s", messageID)
	}
	return threadID, true, nil
}

// ThreadForSubject looks up the thread a subject key was filed under.
func (s *Store) ThreadForSubject(key string) (string, bool, error) {
	var threadID string
	err := s.db.QueryRow(
		"SELECT thread_id FROM email_subject_threads WHERE subject_key = ?",
		key,
	).Scan(&threadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "lookup subject thread %q", key)
	}
	return threadID, true, nil
}

// MapMessage records message_id -> thread_id. An existing mapping wins.
func (s *Store) MapMessage(messageID, threadID string) error {
	query := `
		INSERT INTO email_message_threads (message_id, thread_id)
		VALUES (?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`
	if _, err := s.db.Exec(query, messageID, threadID); err != nil {
		return errors.Wrapf(err, "map message %s to thread %s", messageID, threadID)
	}
	return nil
}

// MapSubject records subject_key -> thread_id. An existing mapping wins.
func (s *Store) MapSubject(key, threadID string) error {
	query := `
		INSERT INTO email_subject_threads (subject_key, thread_id)
		VALUES (?, ?)
		ON CONFLICT(subject_key) DO NOTHING
	`
	if _, err := s.db.Exec(query, key, threadID); err != nil {
		return errors.Wrapf(err, "map subject %q to thread %s", key, threadID)
	}
	return nil
}
