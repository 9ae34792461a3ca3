package pathcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoaded(t *testing.T) *Manager {
	t.Helper()
	m := New(filepath.Join(t.TempDir(), "data", "pathCache.json"))
	require.NoError(t, m.Load())
	return m
}

func TestLoad_CreatesDefaultFile(t *testing.T) {
	m := newLoaded(t)

	raw, err := os.ReadFile(m.Path())
	require.NoError(t, err)

	var data Data
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Nil(t, data.MainRoot)
	assert.Empty(t, data.AdapterRoots)
	assert.Equal(t, Version, data.Version)

	_, ok := m.LookupPrimaryDatabasePath()
	assert.False(t, ok)
}

func TestLoad_ResetsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathCache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m := New(path)
	require.NoError(t, m.Load())
	assert.False(t, m.Stats().HasMainRoot)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
}

func TestMainRootAndPrimaryPath(t *testing.T) {
	m := newLoaded(t)
	root := t.TempDir()

	require.NoError(t, m.SetMainRoot(root))

	got, ok := m.MainRoot()
	require.True(t, ok)
	assert.Equal(t, root, got)

	dbPath, ok := m.LookupPrimaryDatabasePath()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "data", "MaiBot.db"), dbPath)

	assert.ErrorIs(t, m.SetMainRoot(filepath.Join(root, "missing")), ErrInvalidPath)
	assert.ErrorIs(t, m.SetMainRoot(""), ErrInvalidPath)

	reloaded := New(m.Path())
	require.NoError(t, reloaded.Load())
	got, ok = reloaded.MainRoot()
	require.True(t, ok)
	assert.Equal(t, root, got)
}

func TestAdapterRoots(t *testing.T) {
	m := newLoaded(t)
	dirA, dirB := t.TempDir(), t.TempDir()

	require.NoError(t, m.AddAdapterRoot(" qq ", dirA))
	assert.ErrorIs(t, m.AddAdapterRoot("qq", dirB), ErrAdapterExists)
	assert.ErrorIs(t, m.AddAdapterRoot("  ", dirB), ErrAdapterName)

	root, ok := m.AdapterRoot("qq")
	require.True(t, ok)
	assert.Equal(t, dirA, root)

	require.NoError(t, m.UpdateAdapterRoot("qq", dirB))
	root, _ = m.AdapterRoot("qq")
	assert.Equal(t, dirB, root)
	assert.ErrorIs(t, m.UpdateAdapterRoot("other", dirB), ErrAdapterNotFound)

	removed, err := m.RemoveAdapterRoot("qq")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.RemoveAdapterRoot("qq")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, m.Adapters())
}

func TestAdapterLimit(t *testing.T) {
	m := newLoaded(t)
	dir := t.TempDir()

	for i := range MaxAdapters {
		require.NoError(t, m.AddAdapterRoot(fmt.Sprintf("adapter-%d", i), dir))
	}
	assert.ErrorIs(t, m.AddAdapterRoot("one-too-many", dir), ErrAdapterLimit)
	assert.Equal(t, MaxAdapters, m.Stats().AdapterCount)

	require.NoError(t, m.Clear())
	assert.Equal(t, 0, m.Stats().AdapterCount)
}

type countingReloader struct {
	calls atomic.Int32
}

func (c *countingReloader) Reload() error {
	c.calls.Add(1)
	return nil
}

func TestWatcher_ReloadsOnExternalChange(t *testing.T) {
	m := newLoaded(t)
	reloader := &countingReloader{}

	w, err := NewWatcher(m, reloader, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	assert.True(t, w.IsRunning())

	root := t.TempDir()
	other := New(m.Path())
	require.NoError(t, other.Load())
	require.NoError(t, other.SetMainRoot(root))

	require.Eventually(t, func() bool {
		got, ok := m.MainRoot()
		return ok && got == root && reloader.calls.Load() > 0
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
	assert.False(t, w.IsRunning())
}
