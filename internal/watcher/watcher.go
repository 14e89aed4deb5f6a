// Package watcher watches inbox directories with fsnotify and hands new or changed files
// to the indexer, debounced, with the document kind bound to each directory.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// Root is a watched inbox directory; files under it are ingested as Kind.
type Root struct {
	Path string      `json:"path"`
	Kind models.Kind `json:"kind"`
}

// IndexFunc is called for every file to ingest.
type IndexFunc func(path string, kind models.Kind)

// Watcher watches directories and invokes a callback on file changes.
type Watcher struct {
	roots       []Root
	extensions  []string
	recursive   bool
	onIndex     IndexFunc
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	rootPaths   map[string][]string // root -> watched dirs under it
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over roots. extensions filter which files are indexed
// (empty = all).
func NewWatcher(roots []Root, extensions []string, recursive bool, onIndex IndexFunc, opts ...Option) *Watcher {
	w := &Watcher{
		extensions:  extensions,
		recursive:   recursive,
		onIndex:     onIndex,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		rootPaths:   make(map[string][]string),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, r := range roots {
		w.roots = append(w.roots, Root{Path: filepath.Clean(r.Path), Kind: r.Kind})
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.logger.Debug("watcher starting",
		zap.Int("roots", len(w.roots)),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	for _, root := range w.roots {
		if err := w.addRootLocked(root.Path); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	events, errs := watcher.Events, watcher.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	root, ok := w.rootFor(path)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path, root.Kind)
			return
		}
		if matchExtension(path, w.extensions) {
			w.debounceIndex(path, root.Kind)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// Documents stay indexed after their inbox file is gone.
		w.cancelDebounce(path)
	}
}

// handleNewDirectory watches a directory created (or moved) under a root and ingests
// the files already inside it.
func (w *Watcher) handleNewDirectory(dirPath string, kind models.Kind) {
	w.mu.Lock()
	watcher := w.watcher
	recursive := w.recursive
	w.mu.Unlock()
	if watcher == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	w.syncDirectory(Root{Path: dirPath, Kind: kind})
}

// rootFor returns the most specific root containing path.
func (w *Watcher) rootFor(path string) (Root, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var (
		best  Root
		found bool
	)
	for _, root := range w.roots {
		if root.Path == path || inDir(root.Path, path) {
			if !found || len(root.Path) > len(best.Path) {
				best, found = root, true
			}
		}
	}
	return best, found
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) debounceIndex(path string, kind models.Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		stopped := !w.started
		w.mu.Unlock()
		if stopped {
			return
		}
		w.logger.Debug("watcher indexing file", zap.String("path", path), zap.String("kind", string(kind)))
		w.onIndex(path, kind)
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// AddDirectory starts watching root for kind and optionally ingests its existing files.
func (w *Watcher) AddDirectory(root Root, syncExisting bool) error {
	abs, err := filepath.Abs(root.Path)
	if err != nil {
		return err
	}
	root.Path = filepath.Clean(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if r.Path == root.Path {
			return nil
		}
	}
	if w.watcher != nil {
		if err := w.addRootLocked(root.Path); err != nil {
			return err
		}
	}
	w.roots = append(w.roots, root)
	w.logger.Info("watcher directory added",
		zap.String("path", root.Path),
		zap.String("kind", string(root.Kind)),
		zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(root)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	w.rootPaths[root] = paths
	return nil
}

func (w *Watcher) syncDirectory(root Root) {
	w.logger.Debug("watcher syncing directory", zap.String("root", root.Path))
	_ = filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root.Path && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			w.onIndex(path, root.Kind)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Documents ingested from it stay indexed.
func (w *Watcher) RemoveDirectory(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r.Path == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.watcher != nil {
		for _, p := range w.rootPaths[abs] {
			_ = w.watcher.Remove(p)
		}
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("watcher directory removed", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the watched roots.
func (w *Watcher) Directories() []Root {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Root(nil), w.roots...)
}

// SyncExistingFiles ingests the matching files already present in every root. Call it
// after Start to pick up files dropped while the server was down.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
