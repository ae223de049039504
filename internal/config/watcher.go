package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch re-reads the config file into the store whenever it changes on
// disk. Editors often replace files instead of writing in place, so the
// watch covers the parent directory and filters by name. Reload errors
// keep the previous configuration.
func Watch(ctx context.Context, path string, store *Store, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		// debounce burst writes from editors and k8s configmap updates
		var pending *time.Timer
		reload := func() {
			cfg, err := LoadFile(path)
			if err != nil {
				logger.Warn("Config reload failed, keeping previous", zap.Error(err))
				return
			}
			store.Set(cfg)
			logger.Info("Config reloaded", zap.String("path", path))
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
