// Package gitlog streams commits from local repositories as messages.
// It is the one adapter with no remote side: authentication means the
// repositories exist, and there is no outbound path.
package gitlog

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/syncstate"
)

// DefaultPollInterval is how often repositories are rescanned.
const DefaultPollInterval = 5 * time.Minute

// PeekFunc reports the stored watermark for a sync scope. Wired to
// syncstate.Manager.Peek; nil means every scan starts from the
// beginning and relies on content-address dedup.
type PeekFunc func(id syncstate.ID) (syncstate.Watermark, bool, error)

// Config holds the gitlog adapter settings.
type Config struct {
	// Repos are local repository paths to watch.
	Repos []string

	// PollInterval is the rescan cadence.
	PollInterval time.Duration
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{PollInterval: DefaultPollInterval}
}

// Adapter scans configured repositories on a ticker and emits commits
// newer than each repository's timestamp watermark, oldest first.
type Adapter struct {
	*platform.Emitter

	cfg    Config
	peek   PeekFunc
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the adapter. peek may be nil.
func New(cfg Config, peek PeekFunc, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Adapter{
		Emitter: platform.NewEmitter("gitlog"),
		cfg:     cfg,
		peek:    peek,
		logger:  logger,
	}
}

func (a *Adapter) ID() string { return "gitlog" }

// IsAuthenticated reports whether at least one configured path opens as
// a repository.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	for _, path := range a.cfg.Repos {
		if _, err := git.PlainOpen(path); err == nil {
			return true
		}
	}
	return false
}

// Start validates the configured repositories and begins the scan loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}

	var repos []string
	for _, path := range a.cfg.Repos {
		if _, err := git.PlainOpen(path); err != nil {
			a.logger.Warnw("skipping non-repository path", "path", path, "error", err)
			continue
		}
		repos = append(repos, filepath.Clean(path))
	}
	if len(repos) == 0 {
		return errors.Mark(
			errors.Newf("none of %d configured paths is a git repository", len(a.cfg.Repos)),
			errors.ErrConfig)
	}

	// The loop outlives the Start call; only Stop ends it.
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.EmitConnected()

	a.wg.Add(1)
	go a.run(runCtx, repos)
	return nil
}

// Stop ends the scan loop.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	a.wg.Wait()
	a.SetConnected(false)
	return nil
}

// Send is unsupported: commits come from the filesystem.
func (a *Adapter) Send(ctx context.Context, target, body string) error {
	return platform.ErrUnsupported
}

func (a *Adapter) run(ctx context.Context, repos []string) {
	defer a.wg.Done()

	a.scanAll(ctx, repos)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.scanAll(ctx, repos)
		}
	}
}

func (a *Adapter) scanAll(ctx context.Context, repos []string) {
	for _, path := range repos {
		if ctx.Err() != nil {
			return
		}
		if err := a.scanRepo(ctx, path); err != nil {
			a.logger.Warnw("repository scan failed", "path", path, "error", err)
			a.EmitError(errors.Wrapf(err, "scan %s", path))
		}
	}
}

// scanRepo walks every commit in path and emits the ones newer than the
// repository's watermark, oldest first so the watermark never regresses.
func (a *Adapter) scanRepo(ctx context.Context, path string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return errors.Wrap(err, "open repository")
	}

	id := syncstate.NewID("gitlog", path, "commits")
	var since int64
	if a.peek != nil {
		wm, ok, err := a.peek(id)
		if err != nil {
			return errors.Wrap(err, "read watermark")
		}
		if ok && wm.Type == syncstate.TypeTimestamp {
			since = wm.Timestamp
		}
	}

	iter, err := repo.CommitObjects()
	if err != nil {
		return errors.Wrap(err, "iterate commits")
	}

	var fresh []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.Author.When.UnixMilli() <= since {
			return nil
		}
		fresh = append(fresh, c)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "walk commits")
	}
	if len(fresh) == 0 {
		return nil
	}

	sort.Slice(fresh, func(i, j int) bool {
		ti, tj := fresh[i].Author.When.UnixMilli(), fresh[j].Author.When.UnixMilli()
		if ti != tj {
			return ti < tj
		}
		return fresh[i].Hash.String() < fresh[j].Hash.String()
	})

	for _, c := range fresh {
		a.EmitMessage(a.payload(id, path, c))
	}

	a.logger.Debugw("repository scanned",
		"path", path,
		"new_commits", len(fresh),
		"since", since)
	return nil
}

func (a *Adapter) payload(id syncstate.ID, path string, c *object.Commit) *platform.Payload {
	ts := c.Author.When.UnixMilli()
	wm := syncstate.Timestamp(ts)
	return &platform.Payload{
		Kind: message.KindGitCommit,
		Author: message.Author{
			Name:   c.Author.Name,
			Handle: c.Author.Email,
		},
		Title:      strings.SplitN(c.Message, "\n", 2)[0],
		Content:    strings.TrimRight(c.Message, "\n"),
		CreatedAt:  ts,
		PlatformID: c.Hash.String(),
		Thread: platform.ThreadHint{
			ID:    path,
			Type:  message.ThreadChannel,
			Title: filepath.Base(path),
		},
		Tags:      [][]string{{"repo", filepath.Base(path)}},
		SyncID:    id.String(),
		Watermark: &wm,
	}
}
