package ingest

import (
	"database/sql"
	"time"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
)

// AccountStore persists accounts and their per-platform identities.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore creates an account store over an open database.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// Resolve returns the account id for a (platform, handle) pair,
// creating the account and identity rows when absent. The stored
// identity wins over the derived id, so an identity that was manually
// repointed at another account keeps resolving there.
func (s *AccountStore) Resolve(platform, handle, name string) (string, error) {
	normalized := message.NormalizeHandle(platform, handle)
	if normalized == "" {
		return "", errors.NewInvalidRequestError("empty handle for %s account", platform)
	}

	var accountID string
	err := s.db.QueryRow(
		"SELECT account_id FROM account_identities WHERE platform = ? AND handle = ?",
		platform, normalized,
	).Scan(&accountID)
	if err == nil {
		s.fillName(accountID, name)
		return accountID, nil
	}
	if err != sql.ErrNoRows {
		return "", errors.Wrapf(err, "lookup identity %s/%s", platform, normalized)
	}

	accountID = message.AccountID(platform, handle)

	tx, err := s.db.Begin()
	if err != nil {
		return "", errors.Wrap(err, "begin account create")
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.Exec(
		"INSERT INTO accounts (id, name, created_at, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
		accountID, name, now, now,
	)
	if err != nil {
		return "", errors.Wrapf(err, "create account %s", accountID)
	}

	_, err = tx.Exec(
		`INSERT INTO account_identities (account_id, platform, handle)
		 VALUES (?, ?, ?) ON CONFLICT(platform, handle) DO NOTHING`,
		accountID, platform, normalized,
	)
	if err != nil {
		return "", errors.Wrapf(err, "create identity %s/%s", platform, normalized)
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "commit account create")
	}

	return accountID, nil
}

// fillName sets the display name on accounts that have none. Names are
// fill-in only: an existing name is never overwritten by later payloads.
func (s *AccountStore) fillName(accountID, name string) {
	if name == "" {
		return
	}
	s.db.Exec(
		"UPDATE accounts SET name = ?, updated_at = ? WHERE id = ? AND name = ''",
		name, time.Now().UTC().Format(time.RFC3339), accountID,
	)
}

// Get returns one account.
func (s *AccountStore) Get(id string) (*message.Account, error) {
	var acct message.Account
	var createdAt, updatedAt string

	err := s.db.QueryRow(
		"SELECT id, did, name, created_at, updated_at FROM accounts WHERE id = ?",
		id,
	).Scan(&acct.ID, &acct.DID, &acct.Name, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("account %s", id)
		}
		return nil, errors.Wrapf(err, "load account %s", id)
	}

	acct.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at for account %s", id)
	}
	acct.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for account %s", id)
	}

	return &acct, nil
}

// Identities returns every (platform, handle) pair mapped to an account.
func (s *AccountStore) Identities(accountID string) ([]message.Identity, error) {
	rows, err := s.db.Query(
		"SELECT platform, handle, verified FROM account_identities WHERE account_id = ? ORDER BY platform, handle",
		accountID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list identities for %s", accountID)
	}
	defer rows.Close()

	var ids []message.Identity
	for rows.Next() {
		var ident message.Identity
		if err := rows.Scan(&ident.Platform, &ident.Handle, &ident.Verified); err != nil {
			return nil, errors.Wrap(err, "scan identity")
		}
		ids = append(ids, ident)
	}

	return ids, rows.Err()
}
