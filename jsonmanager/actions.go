package jsonmanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrDestinationExists is returned when a move would overwrite a file.
var ErrDestinationExists = errors.New("destination exists")

// ActionOptions controls Delete and Move.
type ActionOptions struct {
	// KeepOriginal leaves the earliest-discovered selected file of each exact
	// group or near cluster in place.
	KeepOriginal bool
	// DryRun reports what would happen without touching the filesystem.
	DryRun bool
	// PreserveTree recreates the path relative to the batch root under the
	// move destination instead of flattening.
	PreserveTree bool
}

// ActionOutcome is the fate of one file in a Delete or Move.
type ActionOutcome struct {
	Key  Key    `json:"key" yaml:"key"`
	Path string `json:"path" yaml:"path"`
	Dest string `json:"dest,omitempty" yaml:"dest,omitempty"`
	Kept bool   `json:"kept,omitempty" yaml:"kept,omitempty"`
	Err  error  `json:"-" yaml:"-"`
}

// SelectByPattern returns the keys of listed matches having a file whose path
// relative to the batch root matches pattern. A pattern without glob syntax
// is a directory prefix; a glob pattern also selects everything beneath a
// matching directory.
func SelectByPattern(res *Result, pattern string) ([]Key, error) {
	pattern = strings.TrimSuffix(foldPath(strings.TrimSpace(pattern)), "/")
	if pattern == "" {
		return nil, nil
	}
	glob := strings.ContainsAny(pattern, "*?[{")
	if glob && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("bad pattern %q", pattern)
	}
	var keys []Key
	for _, g := range res.Matches() {
		for _, p := range g.Paths {
			if selectPath(res.Root, p, pattern, glob) {
				keys = append(keys, g.Key)
				break
			}
		}
	}
	return keys, nil
}

func selectPath(root, path, pattern string, glob bool) bool {
	abs := foldPath(path)
	rel := abs
	if r, err := filepath.Rel(root, path); err == nil {
		rel = foldPath(r)
	}
	if !glob {
		for _, candidate := range []string{rel, abs} {
			if candidate == pattern || strings.HasPrefix(candidate, pattern+"/") {
				return true
			}
		}
		return false
	}
	for dir := rel; dir != "." && dir != "/" && dir != ""; dir = pathDir(dir) {
		if ok, _ := doublestar.Match(pattern, dir); ok {
			return true
		}
	}
	return false
}

func pathDir(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// selectedFiles expands keys to their files in discovery order and marks the
// file kept for each match unit when keepOriginal is set.
func selectedFiles(res *Result, keys []Key, keepOriginal bool) []ActionOutcome {
	want := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	keptUnit := make(map[any]bool)
	var out []ActionOutcome
	for _, g := range res.Groups {
		if _, ok := want[g.Key]; !ok {
			continue
		}
		var unit any = g
		if c, ok := res.ClusterOf(g.Key); ok {
			unit = c
		}
		for _, p := range g.Paths {
			kept := keepOriginal && !keptUnit[unit]
			if kept {
				keptUnit[unit] = true
			}
			out = append(out, ActionOutcome{Key: g.Key, Path: p, Kept: kept})
		}
	}
	return out
}

// settle updates res after an action. Groups whose files were all handled
// are forgotten; a group with a failure stays listed without the files that
// were already removed or moved.
func settle(res *Result, out []ActionOutcome) {
	failed := make(map[Key]bool)
	handled := make(map[Key]map[string]bool)
	var order []Key
	for _, o := range out {
		if _, seen := handled[o.Key]; !seen {
			handled[o.Key] = make(map[string]bool)
			order = append(order, o.Key)
		}
		switch {
		case o.Err != nil:
			failed[o.Key] = true
		case !o.Kept:
			handled[o.Key][o.Path] = true
		}
	}
	var gone []Key
	for _, k := range order {
		if !failed[k] {
			gone = append(gone, k)
			continue
		}
		if g, ok := res.Group(k); ok {
			paths := g.Paths[:0]
			for _, p := range g.Paths {
				if !handled[k][p] {
					paths = append(paths, p)
				}
			}
			g.Paths = paths
		}
	}
	res.Forget(gone)
}

// Delete removes the files of the selected groups and drops the groups from
// the result. Groups with a failed removal stay in the result.
func Delete(res *Result, keys []Key, opts ActionOptions, logger *Logger) []ActionOutcome {
	if logger == nil {
		logger = NoopLogger()
	}
	out := selectedFiles(res, keys, opts.KeepOriginal)
	for i := range out {
		o := &out[i]
		if o.Kept || opts.DryRun {
			continue
		}
		if err := os.Remove(o.Path); err != nil {
			o.Err = err
			logger.Error("failed to delete", "path", o.Path, "error", err)
			continue
		}
		logger.Info("deleted", "path", o.Path)
	}
	if !opts.DryRun {
		settle(res, out)
	}
	return out
}

// Move relocates the files of the selected groups under dest and drops the
// groups from the result, except those with a failed move. Existing files at the destination are never
// overwritten.
func Move(res *Result, keys []Key, dest string, opts ActionOptions, logger *Logger) ([]ActionOutcome, error) {
	if logger == nil {
		logger = NoopLogger()
	}
	if dest == "" {
		return nil, errors.New("move destination is required")
	}
	if !opts.DryRun {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return nil, fmt.Errorf("create destination: %w", err)
		}
	}
	out := selectedFiles(res, keys, opts.KeepOriginal)
	for i := range out {
		o := &out[i]
		if o.Kept {
			continue
		}
		o.Dest = moveTarget(res.Root, o.Path, dest, opts.PreserveTree)
		if opts.DryRun {
			continue
		}
		if err := moveFile(o.Path, o.Dest); err != nil {
			o.Err = err
			logger.Error("failed to move", "path", o.Path, "dest", o.Dest, "error", err)
			continue
		}
		logger.Info("moved", "path", o.Path, "dest", o.Dest)
	}
	if !opts.DryRun {
		settle(res, out)
	}
	return out, nil
}

func moveTarget(root, path, dest string, preserveTree bool) string {
	if preserveTree {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.Join(dest, rel)
		}
	}
	return filepath.Join(dest, filepath.Base(path))
}

func moveFile(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to copy and remove.
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}
