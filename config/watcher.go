package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/logger"
)

// debounceDelay batches the burst of filesystem events an editor save
// produces into a single reload.
const debounceDelay = 500 * time.Millisecond

// ReloadCallback is invoked with the freshly loaded config after a
// watched file changes.
type ReloadCallback func(cfg *Config)

// Watcher reloads the cached config when the watched file changes and
// fans the result out to registered callbacks.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	callbacks []ReloadCallback
	debounce  *time.Timer
	closed    bool
}

// NewWatcher watches path for changes. The file's directory is watched
// rather than the file itself so atomic replace-on-save still fires.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create filesystem watcher")
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(path))
	}

	w := &Watcher{path: path, watcher: fw}
	go w.watchLoop()
	logger.Debugw("Config watcher started", "path", path)
	return w, nil
}

// OnReload registers a callback for future reloads.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Stop stops watching. Pending debounced reloads are cancelled.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.closed = true
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	w.mu.Unlock()
	w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	Reset()
	cfg, err := Load()
	if err != nil {
		logger.Errorw("Config reload failed, callbacks not invoked", "path", w.path, "error", err)
		return
	}
	logger.Infow("Config reloaded", "path", w.path)

	w.mu.Lock()
	cbs := make([]ReloadCallback, len(w.callbacks))
	copy(cbs, w.callbacks)
	w.mu.Unlock()

	for _, cb := range cbs {
		cb(cfg)
	}
}
