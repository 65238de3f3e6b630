package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"tiller/internal/logger"
)

// Watcher hot-reloads the runtime-safe config files (keyword overrides,
// persona). Editors replace files rather than writing in place, so it
// watches the parent directories and filters by name.
type Watcher struct {
	watcher  *fsnotify.Watcher
	handlers map[string]func(path string)
}

func NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{watcher: w, handlers: make(map[string]func(string))}, nil
}

// Watch registers a reload handler for one file.
func (w *Watcher) Watch(path string, onChange func(path string)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	w.handlers[abs] = onChange
	return nil
}

// Run blocks dispatching change events until the context is cancelled.
// Rapid event bursts for the same file are coalesced.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, watched := w.handlers[abs]; watched {
				pending[abs] = time.Now()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config: watcher error: %v", err)
		case now := <-ticker.C:
			for path, at := range pending {
				if now.Sub(at) < 150*time.Millisecond {
					continue
				}
				delete(pending, path)
				logger.Infof("config: reloading %s", path)
				w.handlers[path](path)
			}
		}
	}
}
