package state

import (
	"database/sql"
	"os"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/teranos/messagesd/errors"
)

// LifecycleStore records daemon runs in the daemon_lifecycle table.
type LifecycleStore struct {
	db *sql.DB
}

// NewLifecycleStore creates a lifecycle store over an open database.
func NewLifecycleStore(db *sql.DB) *LifecycleStore {
	return &LifecycleStore{db: db}
}

// RecordStart inserts a new run row and returns its run id.
// Run ids are ULIDs, so rows sort chronologically by id.
func (s *LifecycleStore) RecordStart(pid int, version string) (string, error) {
	runID := ulid.Make().String()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	query := `
		INSERT INTO daemon_lifecycle (run_id, pid, hostname, version, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query, runID, pid, hostname, version, time.Now().Format(time.RFC3339))
	if err != nil {
		return "", storageErr(err, "record daemon start")
	}

	return runID, nil
}

// RecordShutdown marks a run as stopped. clean=false records a fault
// shutdown; a row never updated at all means the process died hard.
func (s *LifecycleStore) RecordShutdown(runID string, clean bool) error {
	query := `
		UPDATE daemon_lifecycle
		SET stopped_at = ?, clean_shutdown = ?
		WHERE run_id = ?
	`

	res, err := s.db.Exec(query, time.Now().Format(time.RFC3339), clean, runID)
	if err != nil {
		return storageErr(err, "record daemon shutdown")
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewNotFoundError("run %s", runID)
	}

	return nil
}

// LastRun returns the most recent run, or ErrNotFound when the table is
// empty. The daemon uses this at startup to detect a crashed previous run.
func (s *LifecycleStore) LastRun() (*Run, error) {
	query := `
		SELECT run_id, pid, hostname, version, started_at, stopped_at, clean_shutdown
		FROM daemon_lifecycle
		ORDER BY run_id DESC
		LIMIT 1
	`

	var run Run
	var startedAt string
	var stoppedAt sql.NullString
	var clean sql.NullBool

	err := s.db.QueryRow(query).Scan(
		&run.RunID,
		&run.PID,
		&run.Hostname,
		&run.Version,
		&startedAt,
		&stoppedAt,
		&clean,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("no recorded runs")
		}
		return nil, errors.Wrap(err, "load last run")
	}

	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse started_at for run %s", run.RunID)
	}

	if stoppedAt.Valid {
		t, err := time.Parse(time.RFC3339, stoppedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse stopped_at for run %s", run.RunID)
		}
		run.StoppedAt = &t
	}
	if clean.Valid {
		run.CleanShutdown = &clean.Bool
	}

	return &run, nil
}
