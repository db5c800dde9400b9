package pipeline

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileOp is the kind of filesystem event behind a change.
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
)

// FileChange is one observed event.
type FileChange struct {
	Path string
	Op   FileOp
}

// changeBuffer bounds events queued between the fsnotify reader and the debouncer.
const changeBuffer = 1000

// FileChangeHandler receives a debounced batch. Batches are delivered one at a
// time from a single goroutine.
type FileChangeHandler func(changes []FileChange)

// WatcherOptions configures a FileWatcher.
type WatcherOptions struct {
	Debounce time.Duration
	// IgnoreDir reports whether a directory (by base name) is never watched.
	IgnoreDir func(name string) bool
	// IgnorePaths are files or directories under the root whose events are
	// dropped, such as the artifact output dir and the contract store.
	IgnorePaths []string
	Logger      *slog.Logger
}

// FileWatcher watches a tree recursively and emits debounced batches of changes.
type FileWatcher struct {
	root      string
	watcher   *fsnotify.Watcher
	handler   FileChangeHandler
	debounce  time.Duration
	ignoreDir func(string) bool
	ignore    []string
	logger    *slog.Logger

	changes  chan FileChange
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewFileWatcher creates a watcher; call Start to begin.
func NewFileWatcher(root string, handler FileChangeHandler, opts WatcherOptions) (*FileWatcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.IgnoreDir == nil {
		opts.IgnoreDir = func(string) bool { return false }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ignore := make([]string, 0, len(opts.IgnorePaths))
	for _, p := range opts.IgnorePaths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		ignore = append(ignore, abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		root:      root,
		watcher:   watcher,
		handler:   handler,
		debounce:  opts.Debounce,
		ignoreDir: opts.IgnoreDir,
		ignore:    ignore,
		logger:    opts.Logger,
		changes:   make(chan FileChange, changeBuffer),
		done:      make(chan struct{}),
	}, nil
}

// Start registers the tree and begins delivering batches until ctx is done or
// Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop releases the underlying watcher. Safe to call more than once.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *FileWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && (w.ignoreDir(d.Name()) || w.ignoredByPath(path)) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *FileWatcher) ignoredPath(path string) bool {
	if w.ignoredByPath(path) {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	dir := filepath.Dir(rel)
	for dir != "." && dir != string(filepath.Separator) && dir != "" {
		if w.ignoreDir(filepath.Base(dir)) {
			return true
		}
		dir = filepath.Dir(dir)
	}
	return false
}

// ignoredByPath matches path against IgnorePaths. A database's "-journal",
// "-wal" and "-shm" companions match along with it.
func (w *FileWatcher) ignoredByPath(path string) bool {
	for _, p := range w.ignore {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
		switch strings.TrimPrefix(path, p) {
		case "-journal", "-wal", "-shm":
			return true
		}
	}
	return false
}

func (w *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.ignoredPath(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !w.ignoreDir(info.Name()) {
						if err := w.addRecursive(event.Name); err != nil {
							w.logger.Warn("failed to watch new directory", "path", event.Name, "err", err)
						}
						// Files moved in with the directory produce no events of their own.
						w.emitExisting(event.Name)
					}
					continue
				}
			}

			w.emit(FileChange{Path: event.Name, Op: convertOp(event.Op)})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

func (w *FileWatcher) emit(change FileChange) {
	select {
	case w.changes <- change:
	default:
		w.logger.Warn("change buffer full, dropping event", "path", change.Path)
	}
}

func (w *FileWatcher) emitExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && (w.ignoreDir(d.Name()) || w.ignoredByPath(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.ignoredByPath(path) {
			return nil
		}
		w.emit(FileChange{Path: path, Op: FileOpCreate})
		return nil
	})
}

func convertOp(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpWrite
	}
}

func (w *FileWatcher) debounceLoop(ctx context.Context) {
	var batch []FileChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := deduplicateChanges(batch)
			if len(deduped) > 0 && w.handler != nil {
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// deduplicateChanges keeps the last event per path, in first-seen order.
func deduplicateChanges(changes []FileChange) []FileChange {
	seen := make(map[string]int)
	result := make([]FileChange, 0, len(changes))
	for _, change := range changes {
		if idx, exists := seen[change.Path]; exists {
			result[idx] = change
		} else {
			seen[change.Path] = len(result)
			result = append(result, change)
		}
	}
	return result
}
