// Package syncstate tracks per-scope sync progress as typed watermarks.
//
// Each platform source keeps a watermark naming the last position it
// has durably ingested past. The manager enforces that watermarks only
// move forward: a regression is rejected rather than written, so a
// buggy or replaying adapter can never make the daemon forget progress
// and re-ingest history. The one sanctioned reset is an IMAP mailbox
// whose UIDVALIDITY changed, which invalidates every UID the old
// watermark referred to.
package syncstate

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/state"
)

// Entry is one watermark with its identity, as returned by listings.
type Entry struct {
	ID        ID        `json:"id"`
	Watermark Watermark `json:"watermark"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager is the typed facade over the sync_state table.
type Manager struct {
	store  *state.SyncStore
	logger *zap.SugaredLogger
}

// NewManager creates a manager over the given store.
func NewManager(store *state.SyncStore, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{store: store, logger: logger}
}

// Advance moves the watermark for id forward to next.
//
// A first write for an unknown id is accepted as-is. After that the
// stored variant is fixed: a different variant is an invalid request,
// and a next that compares behind the stored watermark is rejected
// with ErrWatermarkRegression and nothing is written. A next that
// names the same position is a no-op. Composite advances merge key by
// key, so progress recorded for one sub-scope never erases another's.
func (m *Manager) Advance(id ID, next Watermark) error {
	if err := next.Validate(); err != nil {
		return err
	}
	key := id.String()

	rec, err := m.store.Load(key)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return m.save(id, next)
		}
		return errors.Wrapf(err, "load sync state %s", key)
	}

	var prev Watermark
	if err := json.Unmarshal(rec.Watermark, &prev); err != nil {
		return errors.Wrapf(err, "decode stored watermark %s", key)
	}

	if prev.Type != next.Type {
		return errors.NewInvalidRequestError(
			"watermark for %s is %s, refusing %s; reset the scope to change variants",
			key, string(prev.Type), string(next.Type))
	}

	if prev.Type == TypeUID && prev.UIDValidity != next.UIDValidity {
		m.logger.Warnw("mailbox validity changed, resetting watermark",
			"sync_id", key,
			"old_validity", prev.UIDValidity,
			"new_validity", next.UIDValidity)
		return m.save(id, next)
	}

	c, err := Compare(prev, next)
	if err != nil {
		return errors.Wrapf(err, "compare watermarks for %s", key)
	}

	switch {
	case c < 0:
		m.logger.Warnw("watermark regression rejected", "sync_id", key)
		return errors.Mark(
			errors.Newf("watermark for %s would move backwards", key),
			errors.ErrWatermarkRegression)
	case c == 0:
		return nil
	}

	if next.Type == TypeComposite && len(prev.Composite) > 0 {
		next = mergeComposite(prev, next)
	}

	return m.save(id, next)
}

// Peek returns the stored watermark for id. ok is false when the scope
// has never been synced.
func (m *Manager) Peek(id ID) (Watermark, bool, error) {
	rec, err := m.store.Load(id.String())
	if err != nil {
		if errors.IsNotFoundError(err) {
			return Watermark{}, false, nil
		}
		return Watermark{}, false, errors.Wrapf(err, "load sync state %s", id.String())
	}

	var wm Watermark
	if err := json.Unmarshal(rec.Watermark, &wm); err != nil {
		return Watermark{}, false, errors.Wrapf(err, "decode stored watermark %s", id.String())
	}

	return wm, true, nil
}

// List returns every watermark recorded for a platform.
func (m *Manager) List(platform string) ([]Entry, error) {
	recs, err := m.store.LoadForPlatform(platform)
	if err != nil {
		return nil, err
	}
	return entries(recs)
}

// ListSource returns every watermark for one source within a platform.
func (m *Manager) ListSource(platform, source string) ([]Entry, error) {
	recs, err := m.store.LoadForSource(platform, source)
	if err != nil {
		return nil, err
	}
	return entries(recs)
}

// Reset forgets the watermark for id. The next Advance starts fresh,
// so the scope will be re-synced from the beginning.
func (m *Manager) Reset(id ID) error {
	m.logger.Infow("sync watermark reset", "sync_id", id.String())
	return m.store.Delete(id.String())
}

func (m *Manager) save(id ID, wm Watermark) error {
	raw, err := json.Marshal(wm)
	if err != nil {
		return errors.Wrapf(err, "encode watermark %s", id.String())
	}

	return m.store.Save(&state.SyncRecord{
		ID:        id.String(),
		Platform:  id.Platform,
		Source:    id.Source,
		Scope:     id.Scope,
		Watermark: raw,
	})
}

// mergeComposite overlays next's keys on prev's, keeping sub-scopes
// that this advance did not touch.
func mergeComposite(prev, next Watermark) Watermark {
	merged := make(map[string]Watermark, len(prev.Composite)+len(next.Composite))
	for key, wm := range prev.Composite {
		merged[key] = wm
	}
	for key, wm := range next.Composite {
		merged[key] = wm
	}
	next.Composite = merged
	return next
}

func entries(recs []*state.SyncRecord) ([]Entry, error) {
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		var wm Watermark
		if err := json.Unmarshal(rec.Watermark, &wm); err != nil {
			return nil, errors.Wrapf(err, "decode stored watermark %s", rec.ID)
		}
		out = append(out, Entry{
			ID:        ID{Platform: rec.Platform, Source: rec.Source, Scope: rec.Scope},
			Watermark: wm,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return out, nil
}
