package feed

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch calls onChange whenever a feed file in dir is written, created or renamed
// into place. It returns once the watcher is running; watching stops when ctx is done.
func Watch(ctx context.Context, dir string, logger *zap.Logger, onChange func(name string)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isFeedFile(event.Name) || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				logger.Info("feed file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
				onChange(event.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("feed watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func isFeedFile(name string) bool {
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz")
}
