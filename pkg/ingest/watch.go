package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/datadock/datadock/pkg/decode"
	"github.com/datadock/datadock/pkg/log"
)

// LocalWatcher monitors a local data directory and reports changed
// dataset files. It is the local-mode counterpart of the cache's
// remote staleness poller.
type LocalWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration

	// OnChange is invoked once per settled change, with the filename
	// relative to the watched root.
	OnChange func(filename string)
}

// NewLocalWatcher watches root for dataset file changes.
func NewLocalWatcher(root string) (*LocalWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(root); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	return &LocalWatcher{
		watcher:  fsWatcher,
		root:     root,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Run processes events until the context is cancelled. Rapid write
// bursts to one file collapse into a single OnChange call.
func (w *LocalWatcher) Run(ctx context.Context) error {
	timers := make(map[string]*time.Timer)
	var mu sync.Mutex

	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil || !decode.Supported(rel) {
				continue
			}

			mu.Lock()
			if t, ok := timers[rel]; ok {
				t.Stop()
			}
			timers[rel] = time.AfterFunc(w.debounce, func() {
				log.Info("local dataset changed: %s", rel)
				if w.OnChange != nil {
					w.OnChange(rel)
				}
			})
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error: %v", err)
		}
	}
}
