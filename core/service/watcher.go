package service

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"nfcunha/vpsmanager/core/cache"

	"github.com/fsnotify/fsnotify"
)

// ProjectWatcher invalidates the project list when compose files or project
// directories appear, disappear or are renamed under the base path.
type ProjectWatcher struct {
	basePath string
	maxDepth int
	cache    *cache.Cache
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewProjectWatcher creates a watcher over basePath down to maxDepth-1
// directory levels, the deepest level that can hold a compose file.
func NewProjectWatcher(basePath string, maxDepth int, c *cache.Cache) (*ProjectWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}

	return &ProjectWatcher{
		basePath: filepath.Clean(basePath),
		maxDepth: maxDepth,
		cache:    c,
		watcher:  w,
		logger:   slog.Default().With("component", "project_watcher"),
		done:     make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins handling events.
func (w *ProjectWatcher) Start() error {
	if err := w.addTree(w.basePath); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop()

	w.logger.Info("project watcher started", "path", w.basePath, "watched", len(w.watcher.WatchList()))
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *ProjectWatcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.wg.Wait()
		w.logger.Info("project watcher stopped")
	})
}

func (w *ProjectWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *ProjectWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	isDir := false
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
			if w.depth(event.Name) < w.maxDepth {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Debug("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
		}
	}

	// removed directories cannot be stat'ed; any removal may drop a project
	if isDir || IsComposeFile(event.Name) || !event.Has(fsnotify.Create) {
		w.cache.Invalidate(cache.KeyProjects)
		w.logger.Debug("projects invalidated", "path", event.Name, "op", event.Op.String())
	}
}

// addTree watches root and its subdirectories above maxDepth.
func (w *ProjectWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.basePath && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if w.depth(path) >= w.maxDepth {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *ProjectWatcher) depth(path string) int {
	rel, err := filepath.Rel(w.basePath, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}
