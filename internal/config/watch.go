package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file at path whenever it changes and passes the new
// configuration to onChange. It blocks until ctx is done. Files that fail to
// parse or validate are logged and skipped.
//
// The parent directory is watched so that editors which replace the file
// on save are still noticed.
func Watch(ctx context.Context, path string, onChange func(*Config)) (err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			config, err := LoadFrom(target)
			if err != nil {
				slog.Warn("Ignoring invalid config change", "path", target, "error", err)
				continue
			}
			slog.Debug("Config reloaded", "path", target)
			onChange(config)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
