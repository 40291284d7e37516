package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shelfsync/shelfsync/internal/models"
)

// sharesReloadDelay coalesces the burst of events an editor produces when
// saving a file.
const sharesReloadDelay = 200 * time.Millisecond

// WatchShares reloads the shares file whenever it changes and hands the
// parsed list to onChange. A file that fails to parse is logged and
// skipped. It blocks until the context is cancelled.
//
// The parent directory is watched rather than the file, since editors
// commonly replace a file by renaming a temp file over it.
func WatchShares(ctx context.Context, path string, logger *slog.Logger, onChange func([]models.Share)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching shares file: %w", err)
	}

	timer := time.NewTimer(sharesReloadDelay)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != path {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				timer.Reset(sharesReloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			logger.Warn("shares file watcher", slog.String("error", err.Error()))

		case <-timer.C:
			shares, err := LoadShares(path)
			if err != nil {
				logger.Warn("reloading shares file", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}

			logger.Info("shares file changed", slog.Int("count", len(shares)))
			onChange(shares)
		}
	}
}
