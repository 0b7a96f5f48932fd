package sync

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 300 * time.Millisecond

// FeedWatcher monitors a version feed file and calls onChange once writes
// to it settle. The parent directory is watched so that editors replacing
// the file by rename are noticed.
type FeedWatcher struct {
	path     string
	onChange func()
	watcher  *fsnotify.Watcher
}

// NewFeedWatcher creates a watcher for the feed file at path.
func NewFeedWatcher(path string, onChange func()) (*FeedWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		err = w.Add(filepath.Dir(abs))
	}
	if err != nil {
		w.Close()
		return nil, err
	}
	return &FeedWatcher{path: abs, onChange: onChange, watcher: w}, nil
}

// Start begins watching and debouncing events. Blocks until ctx is cancelled.
func (w *FeedWatcher) Start(ctx context.Context) error {
	l := sub("watcher")
	l.Info("watching version feed", "path", w.path)

	pending := false
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = true
			timer.Reset(debounceInterval)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", "err", err)

		case <-timer.C:
			if pending {
				pending = false
				l.Debug("version feed changed", "path", w.path)
				w.onChange()
			}
		}
	}
}

// Close closes the underlying fsnotify watcher.
func (w *FeedWatcher) Close() error {
	return w.watcher.Close()
}
