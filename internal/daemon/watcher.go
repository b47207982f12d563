package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the manifest, source, and assets for changes and forwards
// them to a trigger function. Directory watches are recursive one level deep
// only for directories present at start; new subdirectories are picked up via
// create events.
type Watcher struct {
	watcher *fsnotify.Watcher
	trigger func(reason string)
	logger  *slog.Logger
}

// NewWatcher sets up watches on every existing path in paths. Missing paths
// are skipped with a log line rather than failing daemon startup.
func NewWatcher(paths []string, trigger func(reason string), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{watcher: fw, trigger: trigger, logger: logger}

	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := w.addRecursive(p); err != nil {
			logger.Warn("skipping watch path", "path", p, "error", err)
		}
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		// Watch the parent so editor save-via-rename is still seen.
		return w.watcher.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(p)
		}
		return nil
	})
}

// Run processes events until the context is done.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
			}
			w.logger.Debug("filesystem change", "path", event.Name, "op", event.Op.String())
			w.trigger("fs:" + event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
