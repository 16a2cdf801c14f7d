package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors emit when saving
// (write + chmod, or remove + create for atomic renames).
const watchDebounce = 250 * time.Millisecond

// Watch reloads the configuration whenever the YAML file or the model
// catalog changes on disk, until ctx is cancelled. It watches the
// containing directory rather than the files themselves so atomic
// renames keep working. A failed reload keeps the previous state.
func (c *Config) Watch(ctx context.Context, logger *slog.Logger, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.configDir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		fire := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				name := filepath.Base(event.Name)
				if name != filepath.Base(c.path) && name != filepath.Base(c.modelsPath) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case <-fire:
				if err := c.Reload(); err != nil {
					logger.Warn("config reload failed, keeping previous state", "error", err)
					continue
				}
				logger.Info("configuration reloaded", "path", c.path)
				if onReload != nil {
					onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
