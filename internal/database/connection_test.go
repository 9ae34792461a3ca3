package database

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scoresSchema = `
CREATE TABLE scores (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	score INTEGER NOT NULL DEFAULT 0,
	note TEXT
);
`

func openTestConnection(t *testing.T) *Connection {
	t.Helper()

	conn := NewConnection(DefaultConnectionConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, conn.Connect())
	t.Cleanup(conn.Disconnect)

	_, err := conn.ExecuteScript(scoresSchema)
	require.NoError(t, err)
	return conn
}

func TestConnection_ConnectDisconnectReconnect(t *testing.T) {
	conn := NewConnection(DefaultConnectionConfig(filepath.Join(t.TempDir(), "nested", "test.db")))
	assert.False(t, conn.IsConnected())

	require.NoError(t, conn.Connect())
	assert.True(t, conn.IsConnected())

	// Second connect is a no-op.
	require.NoError(t, conn.Connect())
	assert.True(t, conn.IsConnected())

	conn.Disconnect()
	assert.False(t, conn.IsConnected())

	require.NoError(t, conn.Connect())
	assert.True(t, conn.IsConnected())
	conn.Disconnect()

	_, err := os.Stat(conn.Path())
	assert.NoError(t, err)
}

func TestConnection_PathWithURIDelimiters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot?v=1#x%20y", "data.db")
	conn := NewConnection(DefaultConnectionConfig(path))
	require.NoError(t, conn.Connect())
	_, err := conn.ExecuteScript(scoresSchema)
	require.NoError(t, err)
	conn.Disconnect()

	_, err = os.Stat(path)
	require.NoError(t, err)

	ro := DefaultConnectionConfig(path)
	ro.ReadOnly = true
	reader := NewConnection(ro)
	require.NoError(t, reader.Connect())
	defer reader.Disconnect()

	info, err := reader.GetTableInfo("scores")
	require.NoError(t, err)
	assert.NotNil(t, info)
}

func TestConnection_ConnectFailureIsConnectionError(t *testing.T) {
	dir := t.TempDir()
	notADB := filepath.Join(dir, "garbage.db")
	require.NoError(t, os.WriteFile(notADB, bytes.Repeat([]byte("not a database "), 512), 0o644))

	conn := NewConnection(DefaultConnectionConfig(notADB))
	err := conn.Connect()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, notADB, connErr.Path)
	assert.False(t, conn.IsConnected())
}

func TestConnection_ReadOnlyMissingFile(t *testing.T) {
	cfg := DefaultConnectionConfig(filepath.Join(t.TempDir(), "missing.db"))
	cfg.ReadOnly = true

	conn := NewConnection(cfg)
	err := conn.Connect()
	require.ErrorIs(t, err, ErrConnection)
}

func TestConnection_OperationsWhenClosed(t *testing.T) {
	conn := NewConnection(DefaultConnectionConfig(filepath.Join(t.TempDir(), "test.db")))

	_, err := conn.ExecuteQuery("SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = conn.ExecuteUpdate("CREATE TABLE t (id INTEGER)")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = conn.GetTableInfo("t")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, conn.BeginTransaction(), ErrNotConnected)
	assert.False(t, conn.ValidateConnection())
}

func TestConnection_ExecuteUpdateReturnsLastInsertID(t *testing.T) {
	conn := openTestConnection(t)

	res, err := conn.ExecuteUpdate("INSERT INTO scores (name, score) VALUES (?, ?)", "a", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)
	require.NotNil(t, res.LastInsertID)
	assert.Equal(t, int64(1), *res.LastInsertID)

	require.NotNil(t, conn.LastInsertID())
	assert.Equal(t, int64(1), *conn.LastInsertID())

	res, err = conn.ExecuteUpdate("UPDATE scores SET score = 2 WHERE id = ?", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)
	assert.Nil(t, res.LastInsertID)
}

func TestConnection_IgnoredInsertHasNoLastInsertID(t *testing.T) {
	conn := openTestConnection(t)

	_, err := conn.ExecuteUpdate("INSERT INTO scores (id, name) VALUES (1, 'a')")
	require.NoError(t, err)

	res, err := conn.ExecuteUpdate("INSERT OR IGNORE INTO scores (id, name) VALUES (1, 'dup')")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.AffectedRows)
	assert.Nil(t, res.LastInsertID)

	require.NotNil(t, conn.LastInsertID())
	assert.Equal(t, int64(1), *conn.LastInsertID())
}

func TestConnection_QueryErrorWrapsSQL(t *testing.T) {
	conn := openTestConnection(t)

	_, err := conn.ExecuteUpdate("INSERT INTO missing_table (x) VALUES (1)")
	require.ErrorIs(t, err, ErrQuery)

	var qErr *QueryError
	require.ErrorAs(t, err, &qErr)
	assert.Contains(t, qErr.SQL, "missing_table")
}

func TestConnection_QueryRowNoMatch(t *testing.T) {
	conn := openTestConnection(t)

	row, err := conn.QueryRow("SELECT * FROM scores WHERE id = ?", 42)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestConnection_WithTransactionCommitAndRollback(t *testing.T) {
	conn := openTestConnection(t)

	err := conn.WithTransaction(func() error {
		_, err := conn.ExecuteUpdate("INSERT INTO scores (name) VALUES ('a')")
		return err
	})
	require.NoError(t, err)
	assert.False(t, conn.InTransaction())

	boom := errors.New("boom")
	err = conn.WithTransaction(func() error {
		if _, err := conn.ExecuteUpdate("INSERT INTO scores (name) VALUES ('b')"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, conn.InTransaction())

	row, err := conn.QueryRow("SELECT COUNT(*) AS n FROM scores")
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["n"])
}

func TestConnection_WithTransactionRollsBackOnPanic(t *testing.T) {
	conn := openTestConnection(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = conn.WithTransaction(func() error {
			if _, err := conn.ExecuteUpdate("INSERT INTO scores (name) VALUES ('lost')"); err != nil {
				return err
			}
			panic("boom")
		})
	})
	assert.False(t, conn.InTransaction())

	_, err := conn.ExecuteUpdate("INSERT INTO scores (name) VALUES ('kept')")
	require.NoError(t, err)

	path := conn.Path()
	conn.Disconnect()
	reopened := NewConnection(DefaultConnectionConfig(path))
	require.NoError(t, reopened.Connect())
	defer reopened.Disconnect()

	rows, err := reopened.QueryRows("SELECT name FROM scores")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0]["name"])
}

func TestConnection_FailedStatementRollsBackExplicitTransaction(t *testing.T) {
	conn := openTestConnection(t)

	require.NoError(t, conn.BeginTransaction())
	assert.ErrorIs(t, conn.BeginTransaction(), ErrTransactionActive)

	_, err := conn.ExecuteUpdate("INSERT INTO scores (name) VALUES ('a')")
	require.NoError(t, err)

	_, err = conn.ExecuteUpdate("INSERT INTO scores (name) VALUES (NULL)")
	require.ErrorIs(t, err, ErrQuery)
	assert.False(t, conn.InTransaction())

	// Commit after the rollback is a no-op.
	require.NoError(t, conn.CommitTransaction())

	row, err := conn.QueryRow("SELECT COUNT(*) AS n FROM scores")
	require.NoError(t, err)
	assert.Equal(t, int64(0), row["n"])
}

func TestConnection_TableAndDatabaseInfo(t *testing.T) {
	conn := openTestConnection(t)

	_, err := conn.ExecuteUpdate("INSERT INTO scores (name, score) VALUES ('a', 1)")
	require.NoError(t, err)

	info, err := conn.GetTableInfo("scores")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "scores", info.Name)
	assert.Equal(t, 4, info.ColumnCount)
	assert.Equal(t, int64(1), info.RowCount)
	assert.Equal(t, "id", info.Columns[0].Name)
	assert.True(t, info.Columns[0].PrimaryKey)
	assert.True(t, info.Columns[1].NotNull)

	missing, err := conn.GetTableInfo("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	dbInfo, err := conn.GetDatabaseInfo()
	require.NoError(t, err)
	assert.Equal(t, []string{"scores"}, dbInfo.Tables)
	assert.Equal(t, 1, dbInfo.TableCount)
	assert.Greater(t, dbInfo.Size, int64(0))
}

func TestConnection_MaintenanceAndValidate(t *testing.T) {
	conn := openTestConnection(t)

	assert.True(t, conn.ValidateConnection())
	require.NoError(t, conn.Optimize())
	require.NoError(t, conn.Vacuum())

	require.NoError(t, conn.BeginTransaction())
	assert.ErrorIs(t, conn.Vacuum(), ErrTransactionActive)
	require.NoError(t, conn.RollbackTransaction())
}

func TestSplitSQLStatements(t *testing.T) {
	script := `
-- comment
CREATE TABLE a (id INTEGER);

CREATE TABLE b (
	id INTEGER
);
INSERT INTO a VALUES (1)`

	statements := splitSQLStatements(script)
	require.Len(t, statements, 3)
	assert.Equal(t, "CREATE TABLE a (id INTEGER);", statements[0])
	assert.Contains(t, statements[1], "CREATE TABLE b")
	assert.Equal(t, "INSERT INTO a VALUES (1)", statements[2])
}
