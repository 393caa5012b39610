package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs fn whenever files land in the inbox, debounced so one
// multi-file drop triggers a single pass. It blocks until the context
// is cancelled.
func (in *Ingester) Watch(ctx context.Context, fn func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(in.inbox); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}
	entries, err := os.ReadDir(in.inbox)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			if err := watcher.Add(filepath.Join(in.inbox, entry.Name())); err != nil {
				return fmt.Errorf("failed to watch source dir %s: %w", entry.Name(), err)
			}
		}
	}

	in.logger.Info("watching inbox", "dir", in.inbox)

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// A new source directory appears: watch it too.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				_ = watcher.Add(event.Name)
				continue
			}
			if filepath.Ext(event.Name) != ".csv" {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				in.logger.Info("inbox change detected", "file", filepath.Base(event.Name))
				if err := fn(); err != nil {
					in.logger.Error("ingest pass failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Error("watcher error", "error", err)
		}
	}
}
