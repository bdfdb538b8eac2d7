package nexus

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a config file for changes and emits a
// config-changed CloudEvent whenever it is written or replaced. The running
// nexus treats its config as immutable; it is up to the embedding process to
// decide whether a change warrants a restart.
//
// The watcher observes the file's directory rather than the file itself so
// atomic save patterns (write temp, rename over) are still detected.
type ConfigWatcher struct {
	path    string
	logger  Logger
	subject *EventSubject

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	done      chan struct{}
	isStarted bool
}

// NewConfigWatcher creates a watcher for the given config file path.
func NewConfigWatcher(path string, logger Logger, subject *EventSubject) *ConfigWatcher {
	return &ConfigWatcher{
		path:    path,
		logger:  logger,
		subject: subject,
	}
}

// Start begins watching. No-op if already started.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isStarted {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.run(ctx)

	w.isStarted = true
	w.logger.Info("Config watcher started", "path", w.path)
	return nil
}

// Stop ends watching. Idempotent.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isStarted {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.isStarted = false
	w.logger.Info("Config watcher stopped", "path", w.path)
}

func (w *ConfigWatcher) run(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Info("Config file changed", "path", w.path, "op", event.Op.String())
			if w.subject != nil {
				w.subject.emitEvent(ctx, EventTypeConfigChanged, "config-watcher", map[string]interface{}{
					"path": w.path,
					"op":   event.Op.String(),
				}, nil)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "path", w.path, "error", err)
		}
	}
}
