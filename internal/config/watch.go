package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a single config file for writes and invokes onChange with
// the freshly loaded Config each time it changes, mirroring the
// config.reload control action without requiring an explicit request.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(Config, []Issue)
	closed   chan struct{}
}

// WatchFile starts watching path's containing directory (fsnotify follows
// editor save-via-rename patterns more reliably watching the directory than
// the file itself) and calls onChange on every Write/Create event for path.
func WatchFile(path string, onChange func(Config, []Issue)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	cw := &Watcher{path: path, watcher: w, onChange: onChange, closed: make(chan struct{})}
	go cw.loop()
	return cw, nil
}

func (w *Watcher) loop() {
	log := slog.With("component", "config.watcher")
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Error("reload failed", "path", w.path, "err", err)
				continue
			}
			w.onChange(cfg, cfg.Validate())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.closed)
	w.watcher.Close()
}
