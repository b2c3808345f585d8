package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mantonx/mediaconv/internal/logger"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the configuration whenever its file is written, replaced or
// created, and blocks until ctx is done. The parent directory is watched so
// editors that save through a rename are picked up.
func (cm *ConfigManager) Watch(ctx context.Context) error {
	path := cm.ConfigPath()
	if path == "" {
		return fmt.Errorf("no config path set")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	var debounce <-chan time.Time

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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(reloadDebounce)

		case <-debounce:
			debounce = nil
			if err := cm.Reload(); err != nil {
				logger.Error("Config reload failed, keeping previous settings: %v", err)
				continue
			}
			logger.Info("Configuration reloaded from %s", target)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error: %v", err)
		}
	}
}

// Watch watches the global configuration file
func Watch(ctx context.Context) error {
	return GetConfigManager().Watch(ctx)
}
