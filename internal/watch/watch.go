// Package watch reruns a callback when record files under a directory change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"yashubustudio/jsonmanager/jsonmanager"
)

// DefaultDebounce is the quiet period after the last event before the
// callback runs.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Root     string
	Pattern  string
	Debounce time.Duration
	Logger   *jsonmanager.Logger
}

// Watcher collects filesystem events under Root and calls back once per
// burst of matching changes.
type Watcher struct {
	opts    Options
	byRel   bool
	fsw     *fsnotify.Watcher
	logger  *jsonmanager.Logger
	changed map[string]struct{}
}

// New creates a watcher and registers every directory under opts.Root.
func New(opts Options) (*Watcher, error) {
	if opts.Pattern == "" {
		opts.Pattern = "*.json"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = jsonmanager.NoopLogger()
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	opts.Root = root

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		opts:    opts,
		byRel:   strings.Contains(opts.Pattern, "/"),
		fsw:     fsw,
		logger:  opts.Logger,
		changed: make(map[string]struct{}),
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("%w: %s", jsonmanager.ErrRootNotFound, dir)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Matches reports whether path is a record file under the configured pattern.
func (w *Watcher) Matches(path string) bool {
	name := filepath.Base(path)
	if w.byRel {
		rel, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			return false
		}
		name = filepath.ToSlash(rel)
	}
	ok, _ := doublestar.Match(w.opts.Pattern, name)
	return ok
}

// Run blocks until ctx is done, calling fn with the changed paths once the
// event stream has been quiet for the debounce interval. Events produced
// while fn runs are batched into the next call.
func (w *Watcher) Run(ctx context.Context, fn func(ctx context.Context, changed []string) error) error {
	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.record(ev) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.opts.Debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-timer.C:
			changed := w.drain()
			if len(changed) == 0 {
				continue
			}
			if err := fn(ctx, changed); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("rescan failed", "error", err)
			}
		}
	}
}

func (w *Watcher) record(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if isDir(ev.Name) {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
			}
			w.changed[ev.Name] = struct{}{}
			return true
		}
	}
	if !w.Matches(ev.Name) {
		return false
	}
	w.changed[ev.Name] = struct{}{}
	return true
}

func (w *Watcher) drain() []string {
	out := make([]string, 0, len(w.changed))
	for p := range w.changed {
		out = append(out, p)
	}
	clear(w.changed)
	sort.Strings(out)
	return out
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
