package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives a file path after its events settled.
type Handler func(ctx context.Context, path string)

// Watcher watches a directory tree and hands settled file changes to
// the handler.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	handler   Handler
	logger    *slog.Logger
}

// New creates a watcher with the given debounce window.
func New(handler Handler, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{fsw: fsw, handler: handler, logger: logger}
	w.debouncer = NewDebouncer(debounce, func(path string) {
		w.handler(context.Background(), path)
	})
	return w, nil
}

// Watch registers the root (and its subdirectories) and processes
// events until the context is canceled.
func (w *Watcher) Watch(ctx context.Context, root string) error {
	if err := w.addRecursive(root); err != nil {
		return err
	}

	w.logger.Info("watching for file changes", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			w.debouncer.Stop()
			return w.fsw.Close()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		// New directories join the watch set as they appear.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}

	if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
		w.debouncer.Trigger(event.Name)
	}
}

// addRecursive registers a directory and every subdirectory.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
