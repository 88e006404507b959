package state

import (
	"database/sql"
	"time"

	"github.com/teranos/messagesd/errors"
)

// PlatformStore persists per-platform runtime state.
type PlatformStore struct {
	db *sql.DB
}

// NewPlatformStore creates a platform store over an open database.
func NewPlatformStore(db *sql.DB) *PlatformStore {
	return &PlatformStore{db: db}
}

// Save upserts the platform row. Counters accumulate: error_count and
// message_count only ever grow across the row's lifetime, so increments
// are applied on top of the stored values rather than replacing them.
func (s *PlatformStore) Save(platform string, status PlatformStatus, patch Patch) error {
	query := `
		INSERT INTO platform_state (
			platform, status, last_connected, last_message, last_error,
			error_count, message_count, reconnect_attempts, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, 0), ?)
		ON CONFLICT(platform) DO UPDATE SET
			status = excluded.status,
			last_connected = COALESCE(excluded.last_connected, platform_state.last_connected),
			last_message = COALESCE(excluded.last_message, platform_state.last_message),
			last_error = COALESCE(excluded.last_error, platform_state.last_error),
			error_count = platform_state.error_count + ?,
			message_count = platform_state.message_count + ?,
			reconnect_attempts = COALESCE(?, platform_state.reconnect_attempts),
			updated_at = excluded.updated_at
	`

	now := time.Now().Format(time.RFC3339)

	var lastConnected, lastMessage, lastError, reconnectAttempts interface{}
	if patch.LastConnected != nil {
		lastConnected = patch.LastConnected.Format(time.RFC3339)
	}
	if patch.LastMessage != nil {
		lastMessage = patch.LastMessage.Format(time.RFC3339)
	}
	if patch.LastError != nil {
		lastError = *patch.LastError
	}
	if patch.ReconnectAttempts != nil {
		reconnectAttempts = *patch.ReconnectAttempts
	}

	_, err := s.db.Exec(query,
		platform,
		string(status),
		lastConnected,
		lastMessage,
		lastError,
		patch.ErrorInc,
		patch.MessageInc,
		reconnectAttempts,
		now,
		patch.ErrorInc,
		patch.MessageInc,
		reconnectAttempts,
	)
	if err != nil {
		return storageErr(err, "save platform state")
	}

	return nil
}

// Get returns the stored state for one platform.
func (s *PlatformStore) Get(platform string) (*PlatformState, error) {
	query := `
		SELECT platform, status, last_connected, last_message, last_error,
		       error_count, message_count, reconnect_attempts, updated_at
		FROM platform_state
		WHERE platform = ?
	`

	row := s.db.QueryRow(query, platform)
	st, err := scanPlatformState(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("platform state %s", platform)
		}
		return nil, errors.Wrapf(err, "load platform state %s", platform)
	}

	return st, nil
}

// List returns all platform rows ordered by platform id.
func (s *PlatformStore) List() ([]*PlatformState, error) {
	query := `
		SELECT platform, status, last_connected, last_message, last_error,
		       error_count, message_count, reconnect_attempts, updated_at
		FROM platform_state
		ORDER BY platform
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "list platform state")
	}
	defer rows.Close()

	var states []*PlatformState
	for rows.Next() {
		st, err := scanPlatformState(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan platform state")
		}
		states = append(states, st)
	}

	return states, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlatformState(row rowScanner) (*PlatformState, error) {
	var st PlatformState
	var status, updatedAt string
	var lastConnected, lastMessage, lastError sql.NullString

	err := row.Scan(
		&st.Platform,
		&status,
		&lastConnected,
		&lastMessage,
		&lastError,
		&st.ErrorCount,
		&st.MessageCount,
		&st.ReconnectAttempts,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	st.Status = PlatformStatus(status)

	st.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for %s", st.Platform)
	}

	if lastConnected.Valid {
		t, err := time.Parse(time.RFC3339, lastConnected.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse last_connected for %s", st.Platform)
		}
		st.LastConnected = &t
	}
	if lastMessage.Valid {
		t, err := time.Parse(time.RFC3339, lastMessage.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse last_message for %s", st.Platform)
		}
		st.LastMessage = &t
	}
	if lastError.Valid {
		st.LastError = lastError.String
	}

	return &st, nil
}
