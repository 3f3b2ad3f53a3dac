package credentials

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"imagegw/internal/metrics"
)

// WatchInvalidFile watches the store's durable record for edits made outside
// this process and merges new entries, calling onAdded with them so they can
// be pulled from rotation. Removals from the file are ignored: a credential
// never comes back during a run. It returns immediately after spawning a
// goroutine that terminates when ctx is done.
func WatchInvalidFile(ctx context.Context, store *InvalidStore, onAdded func([]string), logf func(string, ...interface{})) error {
	if store == nil {
		return fmt.Errorf("store is required")
	}

	absPath, err := filepath.Abs(store.Path())
	if err != nil {
		return fmt.Errorf("watch invalid credentials: resolve path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch invalid credentials: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch invalid credentials: add dir: %w", err)
	}

	fileName := filepath.Base(absPath)

	go func() {
		defer watcher.Close()

		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}

		scheduleReload := func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(100 * time.Millisecond)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != fileName {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logf != nil {
					logf("invalid credential watcher error: %v", err)
				}
			case <-timer.C:
				added, err := store.Reload()
				metrics.ObserveInvalidFileReload(err == nil)
				if err != nil {
					if logf != nil {
						logf("invalid credential reload failed: %v", err)
					}
					continue
				}
				if len(added) == 0 {
					continue
				}
				if logf != nil {
					logf("merged %d invalid credentials from %s", len(added), absPath)
				}
				if onAdded != nil {
					onAdded(added)
				}
			}
		}
	}()

	return nil
}
