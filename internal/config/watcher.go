package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the config file and hands each successfully parsed
// revision to the callback. Only tunables that components re-read (game
// rules) take effect at runtime; connection-level settings need a restart.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	log      *zap.Logger

	mu          sync.Mutex
	lastReload  time.Time
	debounceDur time.Duration
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onChange func(*Config), log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:        path,
		watcher:     fsw,
		onChange:    onChange,
		log:         log,
		debounceDur: 500 * time.Millisecond, // editors fire bursts of writes
	}, nil
}

// Run watches until the context is canceled. The parent directory is
// watched rather than the file itself so atomic-rename saves keep working.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.log.Info("watching config", zap.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	if time.Since(w.lastReload) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping previous", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn("reloaded config invalid, keeping previous", zap.Error(err))
		return
	}
	w.log.Info("config reloaded", zap.String("path", w.path))
	w.onChange(cfg)
}
