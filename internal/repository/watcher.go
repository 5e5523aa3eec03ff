package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/ignore"
	"github.com/fyrsmithlabs/seagent/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is the quiet period before pending changes are emitted.
const DefaultDebounce = 2 * time.Second

// Watcher turns filesystem changes in a local checkout into repo-update
// events. Bursts of changes are collapsed into one event per quiet period.
type Watcher struct {
	root     string
	desc     Descriptor
	filter   *Filter
	matcher  *ignore.Matcher
	debounce time.Duration
	logger   *logging.Logger

	watcher *fsnotify.Watcher
	events  chan Event
	stop    chan struct{}

	modified map[string]bool
	deleted  map[string]bool
}

// NewWatcher creates a watcher for a file:// descriptor.
func NewWatcher(d Descriptor, filter *Filter, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	d = d.Normalize()
	root, err := localRoot(d.URL)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = NewFilter(0, nil, nil)
	}
	matcher, err := filter.Matcher(root)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		root:     root,
		desc:     d,
		filter:   filter,
		matcher:  matcher,
		debounce: debounce,
		logger:   logger.Named("watcher"),
		watcher:  fw,
		events:   make(chan Event, 10),
		stop:     make(chan struct{}),
		modified: make(map[string]bool),
		deleted:  make(map[string]bool),
	}, nil
}

// Start adds watches for the source folder and begins emitting events.
func (w *Watcher) Start(ctx context.Context) error {
	start := filepath.Join(w.root, filepath.FromSlash(w.desc.SrcFolder))
	if info, err := os.Stat(start); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: src_folder %q", ErrPathNotFound, w.desc.SrcFolder)
	}
	if err := w.addTree(start, false); err != nil {
		return err
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and closes the events channel.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Events returns the channel of repo-update events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// addTree watches dir and its subdirectories. With markFiles set, files
// found are recorded as modified; a directory moved into place produces no
// per-file events.
func (w *Watcher) addTree(dir string, markFiles bool) error {
	return filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := w.rel(p)
		if entry.IsDir() {
			if p != dir && w.filter.SkipDir(rel, w.matcher) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(p); err != nil {
				return fmt.Errorf("watching %s: %w", rel, err)
			}
			return nil
		}
		if markFiles {
			w.markModified(p)
		}
		return nil
	})
}

func (w *Watcher) rel(p string) string {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.handle(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.flush(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "filesystem watcher error", zap.Error(err))
		}
	}
}

// handle records one filesystem event and reports whether anything changed.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	rel := w.rel(ev.Name)
	if !w.desc.Under(rel) {
		return false
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// fsnotify drops watches on removed directories itself.
		if w.modified[rel] {
			delete(w.modified, rel)
		}
		w.deleted[rel] = true
		return true
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(ev.Name)
		if err != nil {
			return false
		}
		if info.IsDir() {
			if w.filter.SkipDir(rel, w.matcher) {
				return false
			}
			if err := w.addTree(ev.Name, true); err != nil {
				w.logger.Warn(context.Background(), "watching new directory", zap.String("path", rel), zap.Error(err))
			}
			return true
		}
		return w.markModified(ev.Name)
	}
	return false
}

func (w *Watcher) markModified(p string) bool {
	rel := w.rel(p)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() || w.filter.SkipFile(rel, info.Size(), w.matcher) {
		return false
	}
	delete(w.deleted, rel)
	w.modified[rel] = true
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	if len(w.modified) == 0 && len(w.deleted) == 0 {
		return
	}
	ev := Event{Type: EventUpdate, Modified: sortedKeys(w.modified), Deleted: sortedKeys(w.deleted)}
	w.modified = make(map[string]bool)
	w.deleted = make(map[string]bool)

	w.logger.Debug(ctx, "repository changed",
		zap.Int("modified", len(ev.Modified)), zap.Int("deleted", len(ev.Deleted)))

	select {
	case w.events <- ev:
	case <-w.stop:
	case <-ctx.Done():
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
