package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes on disk and invokes
// onChange with the freshly loaded config. Only hot-tunable fields
// (channel patterns, auto-labels, default assignee) should be consumed
// from reloads; credentials require a restart.
//
// Blocks until ctx is canceled. Editors often replace files via
// rename+create, so the parent directory is watched rather than the file.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var lastReload time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

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
			// Debounce: editors fire several events per save.
			if time.Since(lastReload) < 500*time.Millisecond {
				continue
			}
			lastReload = time.Now()

			cfg, err := LoadFrom(path)
			if err != nil {
				log.Printf("config: reload failed, keeping previous config: %v", err)
				continue
			}
			log.Printf("config: reloaded from %s", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}
