package state

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/messagesd/errors"
)

// SyncRecord is one persisted watermark row. Watermark holds the
// canonical JSON of the tagged union; the typed view lives in the
// syncstate package.
type SyncRecord struct {
	ID        string          `json:"id"`
	Platform  string          `json:"platform"`
	Source    string          `json:"source"`
	Scope     string          `json:"scope"`
	Watermark json.RawMessage `json:"watermark"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SyncStore persists sync watermarks.
type SyncStore struct {
	db *sql.DB
}

// NewSyncStore creates a sync store over an open database.
func NewSyncStore(db *sql.DB) *SyncStore {
	return &SyncStore{db: db}
}

// Save upserts a watermark row.
func (s *SyncStore) Save(rec *SyncRecord) error {
	query := `
		INSERT INTO sync_state (id, platform, source, scope, watermark, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			watermark = excluded.watermark,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	var metadata interface{}
	if len(rec.Metadata) > 0 {
		metadata = string(rec.Metadata)
	}

	_, err := s.db.Exec(query,
		rec.ID,
		rec.Platform,
		rec.Source,
		rec.Scope,
		string(rec.Watermark),
		metadata,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return storageErr(err, "save sync state")
	}

	return nil
}

// Load returns one watermark row, or ErrNotFound.
func (s *SyncStore) Load(id string) (*SyncRecord, error) {
	query := `
		SELECT id, platform, source, scope, watermark, metadata, updated_at
		FROM sync_state
		WHERE id = ?
	`

	rec, err := scanSyncRecord(s.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("sync state %s", id)
		}
		return nil, errors.Wrapf(err, "load sync state %s", id)
	}

	return rec, nil
}

// Delete removes a watermark row. Deleting an absent row is not an error.
func (s *SyncStore) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM sync_state WHERE id = ?", id); err != nil {
		return storageErr(err, "delete sync state")
	}
	return nil
}

// LoadForPlatform returns every watermark row for a platform.
func (s *SyncStore) LoadForPlatform(platform string) ([]*SyncRecord, error) {
	query := `
		SELECT id, platform, source, scope, watermark, metadata, updated_at
		FROM sync_state
		WHERE platform = ?
		ORDER BY id
	`
	return s.loadMany(query, platform)
}

// LoadForSource returns every watermark row for a (platform, source) pair.
func (s *SyncStore) LoadForSource(platform, source string) ([]*SyncRecord, error) {
	query := `
		SELECT id, platform, source, scope, watermark, metadata, updated_at
		FROM sync_state
		WHERE platform = ? AND source = ?
		ORDER BY id
	`
	return s.loadMany(query, platform, source)
}

func (s *SyncStore) loadMany(query string, args ...interface{}) ([]*SyncRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query sync state")
	}
	defer rows.Close()

	var recs []*SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan sync state")
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

func scanSyncRecord(row rowScanner) (*SyncRecord, error) {
	var rec SyncRecord
	var watermark, updatedAt string
	var metadata sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.Platform,
		&rec.Source,
		&rec.Scope,
		&watermark,
		&metadata,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Watermark = json.RawMessage(watermark)
	if metadata.Valid {
		rec.Metadata = json.RawMessage(metadata.String)
	}

	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for %s", rec.ID)
	}

	return &rec, nil
}
