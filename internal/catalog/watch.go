package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const rebuildDebounce = 400 * time.Millisecond

// Watch rebuilds the catalog when the intents file changes on disk. It
// watches the parent directory so editors that replace the file (rename
// over it) are still seen. Runs until ctx is cancelled. A failed rebuild
// keeps the previous generation serving.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	target, err := filepath.Abs(c.path)
	if err != nil {
		target = c.path
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				abs, _ := filepath.Abs(ev.Name)
				if abs != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(rebuildDebounce, func() {
					c.logger.Info("intents file changed, rebuilding catalog", zap.String("path", c.path))
					if err := c.Rebuild(ctx); err != nil {
						c.logger.Error("catalog rebuild failed, keeping previous index", zap.Error(err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("intents watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
