package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its backing file changes,
// swapping the new values into the same *Config instance via ReplaceFrom
// so callers holding a pointer see the update without re-wiring anything.
// Grounded on the teacher's file-permission-enforcing Load plus
// ReplaceFrom, which exists for exactly this purpose.
type Watcher struct {
	path    string
	cfg     *Config
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// Watch starts watching path for changes, reloading into cfg on each
// write/create event. Callers must call Close to release the underlying
// inotify/kqueue handle.
func Watch(path string, cfg *Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{path: path, cfg: cfg, logger: logger, watcher: fsw, stop: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) reload() {
	fresh, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config hot-reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.cfg.ReplaceFrom(fresh)
	w.logger.Info("config reloaded", "path", w.path)
}

// Close stops the watch loop and releases the underlying filesystem handle.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
