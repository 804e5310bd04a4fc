package jsonmanager

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// Walk lists the files under root matching pattern, in lexical traversal
// order. A pattern without "/" is matched against base names ("*.json");
// otherwise it is matched against the slash-separated path relative to root
// and may use "**". Unreadable subdirectories are logged and skipped.
func Walk(root, pattern string, logger *Logger) ([]string, error) {
	if logger == nil {
		logger = NoopLogger()
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}
	if pattern == "" {
		pattern = "*.json"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: bad file pattern %q", ErrInvalidConfig, pattern)
	}
	byRel := strings.Contains(pattern, "/")

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skip unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if byRel {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			name = filepath.ToSlash(rel)
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}

// Loaded is one record read by LoadOrdered. Err is a *LoadError when the file
// could not be read or decoded.
type Loaded struct {
	Index int
	Path  string
	Doc   Document
	Err   error
}

// LoadOrdered reads paths with up to workers concurrent loads and hands each
// result to fn on the calling goroutine in the order of paths. At most
// workers*4 results are buffered ahead of fn. A non-nil error from fn or a
// cancelled ctx stops the batch; the error is returned after in-flight loads
// finish.
func LoadOrdered(ctx context.Context, store RecordStore, paths []string, workers int, fn func(Loaded) error) error {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]chan Loaded, len(paths))
	for i := range slots {
		slots[i] = make(chan Loaded, 1)
	}
	window := make(chan struct{}, workers*4)

	var g errgroup.Group
	g.SetLimit(workers)
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		for i, path := range paths {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			g.Go(func() error {
				doc, err := store.Load(path)
				slots[i] <- Loaded{Index: i, Path: path, Doc: doc, Err: err}
				return nil
			})
		}
	}()

	finish := func(err error) error {
		cancel()
		<-produced
		_ = g.Wait()
		return err
	}
	for i := range paths {
		var item Loaded
		select {
		case item = <-slots[i]:
		case <-ctx.Done():
			return finish(ctx.Err())
		}
		<-window
		if err := fn(item); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}
