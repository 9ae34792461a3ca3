package database

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLookup struct {
	path string
}

func (s *staticLookup) LookupPrimaryDatabasePath() (string, bool) {
	return s.path, s.path != ""
}

func createDatabaseFile(t *testing.T, path string) {
	t.Helper()
	conn := NewConnection(DefaultConnectionConfig(path))
	require.NoError(t, conn.Connect())
	_, err := conn.ExecuteScript(scoresSchema)
	require.NoError(t, err)
	conn.Disconnect()
}

func TestManager_InitializeWithoutPrimary(t *testing.T) {
	m := NewManager(&staticLookup{}, DefaultManagerConfig())
	assert.Equal(t, StateUninitialized, m.State())

	require.NoError(t, m.Initialize())
	assert.Equal(t, StateReady, m.State())
	assert.Empty(t, m.ListConnections())
	assert.Nil(t, m.Primary())
	assert.False(t, m.IsPrimaryConnected())

	assert.Error(t, m.Initialize())
}

func TestManager_InitializeMissingFileIsSoftFailure(t *testing.T) {
	m := NewManager(&staticLookup{path: filepath.Join(t.TempDir(), "data", "MaiBot.db")}, DefaultManagerConfig())

	require.NoError(t, m.Initialize())
	assert.Equal(t, StateReady, m.State())
	assert.Empty(t, m.ListConnections())
}

func TestManager_InitializeRegistersPrimary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MaiBot.db")
	createDatabaseFile(t, path)

	m := NewManager(&staticLookup{path: path}, DefaultManagerConfig())
	require.NoError(t, m.Initialize())
	t.Cleanup(m.CloseAll)

	assert.Equal(t, []string{PrimaryName}, m.ListConnections())
	require.NotNil(t, m.Primary())
	assert.True(t, m.IsPrimaryConnected())

	info, err := m.DatabaseInfo(PrimaryName)
	require.NoError(t, err)
	assert.Contains(t, info.Tables, "scores")

	_, err = m.DatabaseInfo("other")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestManager_DuplicateAddKeepsFirst(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(nil, DefaultManagerConfig())
	require.NoError(t, m.Initialize())
	t.Cleanup(m.CloseAll)

	require.NoError(t, m.AddConnection("x", DefaultConnectionConfig(filepath.Join(dir, "first.db"))))
	first := m.GetOperator("x")
	require.NotNil(t, first)

	require.NoError(t, m.AddConnection("x", DefaultConnectionConfig(filepath.Join(dir, "second.db"))))
	assert.Same(t, first, m.GetOperator("x"))
	assert.Equal(t, filepath.Join(dir, "first.db"), m.GetConnection("x").Path())

	_, err := os.Stat(filepath.Join(dir, "second.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestManager_RemoveAndCloseAll(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(nil, DefaultManagerConfig())
	require.NoError(t, m.Initialize())

	require.NoError(t, m.AddConnection("b", DefaultConnectionConfig(filepath.Join(dir, "b.db"))))
	require.NoError(t, m.AddConnection("a", DefaultConnectionConfig(filepath.Join(dir, "a.db"))))
	assert.Equal(t, []string{"a", "b"}, m.ListConnections())
	assert.True(t, m.TestConnection("a"))

	connA := m.GetConnection("a")
	m.RemoveConnection("a")
	m.RemoveConnection("a")
	assert.False(t, connA.IsConnected())
	assert.Nil(t, m.GetConnection("a"))
	assert.False(t, m.TestConnection("a"))

	connB := m.GetConnection("b")
	m.CloseAll()
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, connB.IsConnected())
	assert.Empty(t, m.ListConnections())

	require.NoError(t, m.Initialize())
	assert.Equal(t, StateReady, m.State())
	m.CloseAll()
}

func TestManager_AddConnectionFailure(t *testing.T) {
	m := NewManager(nil, DefaultManagerConfig())
	require.NoError(t, m.Initialize())

	cfg := DefaultConnectionConfig(filepath.Join(t.TempDir(), "missing.db"))
	cfg.ReadOnly = true
	err := m.AddConnection("ro", cfg)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Nil(t, m.GetOperator("ro"))
}

func TestManager_ReloadSwapsPrimary(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "one.db")
	second := filepath.Join(dir, "two.db")
	createDatabaseFile(t, first)
	createDatabaseFile(t, second)

	lookup := &staticLookup{path: first}
	m := NewManager(lookup, DefaultManagerConfig())
	require.NoError(t, m.Initialize())
	t.Cleanup(m.CloseAll)

	original := m.GetConnection(PrimaryName)
	require.NotNil(t, original)

	require.NoError(t, m.Reload())
	assert.Same(t, original, m.GetConnection(PrimaryName))

	lookup.path = second
	require.NoError(t, m.Reload())
	assert.Equal(t, second, m.GetConnection(PrimaryName).Path())
	assert.False(t, original.IsConnected())

	lookup.path = filepath.Join(dir, "gone.db")
	assert.Error(t, m.Reload())
	assert.Equal(t, second, m.GetConnection(PrimaryName).Path())

	corrupt := filepath.Join(dir, "corrupt.db")
	require.NoError(t, os.WriteFile(corrupt, bytes.Repeat([]byte("not a database "), 512), 0o644))
	lookup.path = corrupt
	assert.ErrorIs(t, m.Reload(), ErrConnection)
	assert.Equal(t, []string{PrimaryName}, m.ListConnections())
	assert.Equal(t, second, m.GetConnection(PrimaryName).Path())
	assert.True(t, m.IsPrimaryConnected())
}
