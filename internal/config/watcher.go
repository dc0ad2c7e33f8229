package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig watches ARCH_CONFIG_PATH for writes/recreations and emits
// a debounced reload signal. Runs until ctx is canceled.
//
// Adapted from the teacher's pkg/config/watcher.go, which watches a
// config.json/system.json pair; this gateway has a single configuration
// document, so the variadic file list collapses to one caller-supplied
// path.
func WatchConfig(ctx context.Context, path string) <-chan struct{} {
	reloadCh := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create config watcher", "error", err)
		return reloadCh
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		slog.Warn("could not resolve absolute config path", "path", path)
		absPath = path
	}
	if err := watcher.Add(absPath); err != nil {
		slog.Warn("could not watch config file", "path", absPath, "error", err)
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		var timer *time.Timer
		const debounce = 500 * time.Millisecond

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						slog.Info("configuration change detected", "file", event.Name)
						select {
						case reloadCh <- struct{}{}:
						default:
						}
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watcher error", "error", err)
			}
		}
	}()

	return reloadCh
}
