package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch observes the config file for writes and invokes onReload with the
// freshly parsed configuration. Only hot-reloadable fields should be applied
// by the callback; endpoint and probe bounds are fixed per process lifetime.
// The watcher runs until stop is closed.
func Watch(path string, onReload func(*Config), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory rather than the file: editors replace config files
	// by rename, which drops a direct file watch.
	dir := filepath.Dir(path)
	if err = watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					cfg, errLoad := LoadConfig(path)
					if errLoad != nil {
						log.WithError(errLoad).Warn("config reload skipped")
						return
					}
					log.Info("config reloaded")
					onReload(cfg)
				})
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(errWatch).Warn("config watcher error")
			}
		}
	}()
	return nil
}
