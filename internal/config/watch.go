package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 750 * time.Millisecond

// Watch reloads the document at path whenever its content changes on disk
// and hands every valid result to apply, on the calling goroutine. Bursts of
// editor writes are coalesced over debounce; saves that leave the bytes
// unchanged are ignored. An invalid document is logged and skipped. Watch
// returns when ctx ends or the watcher cannot be set up.
func Watch(ctx context.Context, log *zap.Logger, path string, debounce time.Duration, apply func(*Config)) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	log = log.Named("config_watch")

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// The directory, not the file: Save and most editors replace by rename,
	// which drops a watch placed on the old inode.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch %s: %w", filepath.Dir(abs), err)
	}
	log.Info("watching", zap.String("path", abs))

	last, _ := os.ReadFile(abs)

	settle := time.NewTimer(debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name == abs && ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				settle.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))

		case <-settle.C:
			data, err := os.ReadFile(abs)
			if err != nil {
				// Removed or mid-rename; a later event brings it back.
				log.Debug("read skipped", zap.Error(err))
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			c, err := Parse(data)
			if err != nil {
				log.Warn("reload skipped", zap.Error(err))
				continue
			}
			last = data
			log.Info("config changed",
				zap.Int("streams", len(c.Streams)),
				zap.Int("tasks", len(c.Tasks)),
			)
			apply(c)
		}
	}
}
