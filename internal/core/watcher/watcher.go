package watcher

import (
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"synsched/internal/shared/observability"
	"synsched/internal/shared/util"
)

// Change is one settled modification of a tracked document on disk.
type Change struct {
	Path    string
	Content []byte
	Removed bool
}

// Watcher follows a set of open documents on disk and reports content
// changes in debounced batches. Writes that leave the content unchanged are
// suppressed.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	exclude   []glob.Glob
	onChange  func([]Change)

	callbackMu sync.Mutex

	mu       sync.Mutex
	debounce time.Duration
	tracked  map[string][sha256.Size]byte
	dirs     map[string]int
	pending  map[string]struct{}
	timer    *time.Timer
	closed   bool
	done     chan struct{}
}

// NewWatcher compiles the exclude globs (matched against slash-separated
// paths) and opens the underlying fsnotify watcher.
func NewWatcher(debounce time.Duration, exclude []string, onChange func([]Change)) (*Watcher, error) {
	if onChange == nil {
		return nil, os.ErrInvalid
	}

	compiled := make([]glob.Glob, 0, len(exclude))
	for _, pattern := range exclude {
		g, err := glob.Compile(util.NormalizePatternPath(pattern), '/')
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsw,
		exclude:   compiled,
		onChange:  onChange,
		debounce:  debounce,
		tracked:   make(map[string][sha256.Size]byte),
		dirs:      make(map[string]int),
		pending:   make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// SetDebounce changes the settle delay for future batches.
func (w *Watcher) SetDebounce(debounce time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = debounce
}

// Track starts following path and returns its current content. Excluded
// paths are rejected with os.ErrPermission.
func (w *Watcher) Track(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if w.excluded(abs) {
		return nil, os.ErrPermission
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, os.ErrClosed
	}
	if _, ok := w.tracked[abs]; ok {
		w.tracked[abs] = sha256.Sum256(content)
		return content, nil
	}

	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, err
		}
	}
	w.dirs[dir]++
	w.tracked[abs] = sha256.Sum256(content)
	return content, nil
}

// Untrack stops following path.
func (w *Watcher) Untrack(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tracked[abs]; !ok {
		return
	}
	delete(w.tracked, abs)
	delete(w.pending, abs)

	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if !w.closed {
			_ = w.fsWatcher.Remove(dir)
		}
	}
}

// Tracked returns the followed paths in sorted order.
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return util.SortedStringKeys(w.tracked)
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleChange(filepath.Clean(event.Name))

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleChange(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tracked[path]; !ok || w.closed {
		return
	}
	w.pending[path] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(max(w.debounce, 0), w.flushChanges)
}

func (w *Watcher) flushChanges() {
	w.mu.Lock()
	paths := util.SortedStringKeys(w.pending)
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	changes := make([]Change, 0, len(paths))
	for _, path := range paths {
		if change, ok := w.settle(path); ok {
			changes = append(changes, change)
		}
	}

	if len(changes) > 0 {
		w.callbackMu.Lock()
		defer w.callbackMu.Unlock()
		w.onChange(changes)
	}
}

// settle reads path and compares it with the last seen digest.
func (w *Watcher) settle(path string) (Change, bool) {
	content, err := os.ReadFile(path)
	removed := errors.Is(err, os.ErrNotExist)
	if err != nil && !removed {
		slog.Warn("failed to read changed document", "path", path, "error", err)
		return Change{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.tracked[path]
	if !ok {
		return Change{}, false
	}
	if removed {
		return Change{Path: path, Removed: true}, true
	}
	sum := sha256.Sum256(content)
	if sum == last {
		return Change{}, false
	}
	w.tracked[path] = sum
	return Change{Path: path, Content: content}, true
}

func (w *Watcher) excluded(path string) bool {
	normalized := util.NormalizePatternPath(path)
	base := filepath.Base(path)
	for _, g := range w.exclude {
		if g.Match(normalized) || g.Match(base) {
			return true
		}
	}
	return false
}

// Close stops the watcher. Pending batches are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	<-w.done
	return err
}
