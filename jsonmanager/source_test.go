package jsonmanager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalk(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "b.json", `{}`)
	writeRecord(t, dir, "a.json", `{}`)
	writeRecord(t, dir, "notes.txt", `x`)
	writeRecord(t, dir, "sub/c.json", `{}`)
	writeRecord(t, dir, "sub/deep/d.json", `{}`)

	paths, err := Walk(dir, "*.json", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.json"),
		filepath.Join(dir, "b.json"),
		filepath.Join(dir, "sub", "c.json"),
		filepath.Join(dir, "sub", "deep", "d.json"),
	}, paths)

	paths, err = Walk(dir, "sub/**/*.json", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "sub", "c.json"),
		filepath.Join(dir, "sub", "deep", "d.json"),
	}, paths)
}

func TestWalk_Errors(t *testing.T) {
	_, err := Walk(filepath.Join(t.TempDir(), "missing"), "*.json", nil)
	assert.ErrorIs(t, err, ErrRootNotFound)

	file := writeRecord(t, t.TempDir(), "x.json", `{}`)
	_, err = Walk(file, "*.json", nil)
	assert.ErrorIs(t, err, ErrRootNotFound)

	_, err = Walk(t.TempDir(), "[", nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type slowStore struct {
	*FileRecordStore
	loads atomic.Int32
}

func (s *slowStore) Load(path string) (Document, error) {
	s.loads.Add(1)
	return s.FileRecordStore.Load(path)
}

func TestLoadOrdered_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 50; i++ {
		body := fmt.Sprintf(`{"position":[%d]}`, i)
		if i == 7 {
			body = `{broken`
		}
		paths = append(paths, writeRecord(t, dir, fmt.Sprintf("%02d.json", i), body))
	}

	store := &slowStore{FileRecordStore: NewFileRecordStore()}
	var got []int
	err := LoadOrdered(context.Background(), store, paths, 8, func(item Loaded) error {
		got = append(got, item.Index)
		assert.Equal(t, paths[item.Index], item.Path)
		if item.Index == 7 {
			var le *LoadError
			assert.True(t, errors.As(item.Err, &le))
		} else {
			assert.NoError(t, item.Err)
			assert.Equal(t, fmt.Sprintf("[%d]", item.Index), string(item.Doc.Position()))
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, idx := range got {
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, int32(50), store.loads.Load())
}

func TestLoadOrdered_Stops(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 40; i++ {
		paths = append(paths, writeRecord(t, dir, fmt.Sprintf("%02d.json", i), `{}`))
	}

	ctx, cancel := context.WithCancel(context.Background())
	seen := 0
	err := LoadOrdered(ctx, NewFileRecordStore(), paths, 4, func(item Loaded) error {
		seen++
		if seen == 5 {
			cancel()
		}
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, seen)

	stop := errors.New("stop")
	err = LoadOrdered(context.Background(), NewFileRecordStore(), paths, 2, func(item Loaded) error {
		if item.Index == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
}
