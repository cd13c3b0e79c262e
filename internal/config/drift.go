package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// driftDebounce collapses the burst of events editors emit for one save.
const driftDebounce = 100 * time.Millisecond

// WatchDrift watches the config file and calls onDrift after it changes on
// disk. The running Config is never reloaded; callers report that a restart
// is required. The watch ends when ctx is cancelled.
func WatchDrift(ctx context.Context, path string, onDrift func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory so atomic rename-on-save is seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		debounce := time.NewTimer(driftDebounce)
		if !debounce.Stop() {
			<-debounce.C
		}
		target := filepath.Clean(path)

		for {
			select {
			case <-ctx.Done():
				debounce.Stop()
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				debounce.Reset(driftDebounce)

			case <-debounce.C:
				onDrift(path)

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}
