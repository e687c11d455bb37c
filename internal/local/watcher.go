package local

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/torfstack/ftpsync/internal/logging"
)

type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes of a single file. The parent directory is watched
// because editors usually replace files instead of writing them in place.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan WatchEvent
	Path    string
}

func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve '%s': %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: watcher,
		Events:  make(chan WatchEvent, 1),
		Path:    abs,
	}
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("could not add directory to watcher: %w", err)
	}
	logging.Debugf("Watching '%s' for changes", abs)
	return w, nil
}

func (w *Watcher) Close() {
	if err := w.watcher.Close(); err != nil {
		logging.Errorf("Error closing watcher: %s", err)
	}
}

// Run forwards write, create and rename events of the watched file until ctx
// is done. Events are dropped while a previous one is still pending.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.Events)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.Path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.Events <- WatchEvent{Path: event.Name, Op: event.Op}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logging.Errorf("FSNotify Error: %v", err)
		}
	}
}
