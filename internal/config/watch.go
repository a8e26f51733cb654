package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its backing file changes.
type Watcher struct {
	path    string
	cfg     *Config
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching path for changes, applying any reload onto cfg
// in place via Config.ReplaceFrom so existing holders of the pointer observe
// the update.
func NewWatcher(path string, cfg *Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{path: path, cfg: cfg, watcher: fw}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	lastHash := w.cfg.Hash()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloaded, err := Load(w.path)
			if err != nil {
				slog.Warn("config reload failed", "path", w.path, "error", err)
				continue
			}
			if h := reloaded.Hash(); h == lastHash {
				continue
			} else {
				lastHash = h
			}
			w.cfg.ReplaceFrom(reloaded)
			slog.Info("config reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
