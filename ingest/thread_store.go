package ingest

import (
	"database/sql"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
)

// ThreadStore persists conversation threads.
type ThreadStore struct {
	db *sql.DB
}

// NewThreadStore creates a thread store over an open database.
func NewThreadStore(db *sql.DB) *ThreadStore {
	return &ThreadStore{db: db}
}

// Ensure inserts the thread if its id is new. Returns true when a row
// was created. An existing thread is left exactly as it was, thread
// ids are deterministic so re-deriving one must never reset its state.
func (s *ThreadStore) Ensure(th *message.Thread) (bool, error) {
	query := `
		INSERT INTO threads (id, title, type, platform, platform_id, room_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	threadType := th.Type
	if threadType == "" {
		threadType = message.ThreadDM
	}

	var platformID, roomID interface{}
	if th.Source.PlatformID != "" {
		platformID = th.Source.PlatformID
	}
	if th.Source.RoomID != "" {
		roomID = th.Source.RoomID
	}

	res, err := s.db.Exec(query,
		th.ID,
		th.Title,
		string(threadType),
		th.Source.Platform,
		platformID,
		roomID,
		th.CreatedAt,
	)
	if err != nil {
		return false, errors.Wrapf(err, "ensure thread %s", th.ID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "ensure thread")
	}
	return affected > 0, nil
}

// Get returns one thread with its participant account ids.
func (s *ThreadStore) Get(id string) (*message.Thread, error) {
	query := `
		SELECT id, title, type, platform, platform_id, room_id,
		       created_at, last_message_at, message_count
		FROM threads
		WHERE id = ?
	`

	th, err := scanThread(s.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("thread %s", id)
		}
		return nil, errors.Wrapf(err, "load thread %s", id)
	}

	rows, err := s.db.Query(
		"SELECT account_id FROM thread_participants WHERE thread_id = ? ORDER BY account_id", id)
	if err != nil {
		return nil, errors.Wrapf(err, "load participants for %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID string
		if err := rows.Scan(&accountID); err != nil {
			return nil, errors.Wrap(err, "scan participant")
		}
		th.Participants = append(th.Participants, accountID)
	}

	return th, rows.Err()
}

// List returns threads for a platform, most recently active first.
func (s *ThreadStore) List(platform string, limit int) ([]*message.Thread, error) {
	query := `
		SELECT id, title, type, platform, platform_id, room_id,
		       created_at, last_message_at, message_count
		FROM threads
		WHERE platform = ?
		ORDER BY last_message_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, platform, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list threads for %s", platform)
	}
	defer rows.Close()

	var threads []*message.Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan thread")
		}
		threads = append(threads, th)
	}

	return threads, rows.Err()
}

// AddParticipant records an account as a thread participant.
func (s *ThreadStore) AddParticipant(threadID, accountID string) error {
	query := `
		INSERT INTO thread_participants (thread_id, account_id)
		VALUES (?, ?)
		ON CONFLICT(thread_id, account_id) DO NOTHING
	`
	if _, err := s.db.Exec(query, threadID, accountID); err != nil {
		return errors.Wrapf(err, "add participant %s to %s", accountID, threadID)
	}
	return nil
}

func scanThread(row rowScanner) (*message.Thread, error) {
	var th message.Thread
	var threadType string
	var platformID, roomID sql.NullString
	var lastMessageAt sql.NullInt64

	err := row.Scan(
		&th.ID,
		&th.Title,
		&threadType,
		&th.Source.Platform,
		&platformID,
		&roomID,
		&th.CreatedAt,
		&lastMessageAt,
		&th.MessageCount,
	)
	if err != nil {
		return nil, err
	}

	th.Type = message.ThreadType(threadType)
	th.Source.PlatformID = platformID.String
	th.Source.RoomID = roomID.String
	th.LastMessageAt = lastMessageAt.Int64

	return &th, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
