package adaptive

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchStrategies reloads the strategy file into the engine whenever it
// changes. Events are debounced because editors fire several writes per
// save. An invalid file keeps the previous set.
func WatchStrategies(ctx context.Context, path string, engine *Engine, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files by rename, which drops
	// a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var debounce *time.Timer
		target := filepath.Clean(path)

		reload := func() {
			strategies, err := LoadStrategies(path)
			if err != nil {
				logger.Warn("strategy_reload_failed",
					slog.String("path", path),
					slog.Any("error", err))
				return
			}
			engine.SetStrategies(strategies)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("strategy_watch_error", slog.Any("error", err))
			}
		}
	}()
	return nil
}
