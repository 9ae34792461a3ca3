package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// ExecResult is the outcome of one mutating statement.
type ExecResult struct {
	AffectedRows int64
	// LastInsertID is set for INSERT/REPLACE statements only.
	LastInsertID *int64
}

// Connection owns one SQLite handle. It starts unconnected; Connect opens
// the file and Disconnect closes it. A Connection may be reconnected.
//
// Connection does not serialize statements. With AllowCrossThreadUse
// disabled the pool holds a single physical connection, so database/sql
// queues concurrent callers; an unclosed *sql.Rows from ExecuteQuery blocks
// every other caller until it is closed.
type Connection struct {
	id     string
	config ConnectionConfig

	mu           sync.RWMutex
	handle       *sql.DB
	tx           *sql.Tx
	lastInsertID *int64
}

// NewConnection creates an unconnected Connection for cfg.
func NewConnection(cfg ConnectionConfig) *Connection {
	return &Connection{
		id:     "db_" + uuid.NewString(),
		config: cfg,
	}
}

// ID returns a process-unique identifier used in log lines.
func (c *Connection) ID() string {
	return c.id
}

// Path returns the database file path.
func (c *Connection) Path() string {
	return c.config.Path
}

// Config returns a copy of the connection configuration.
func (c *Connection) Config() ConnectionConfig {
	return c.config
}

// Connect opens the database file. Calling it on an open Connection is a
// no-op.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		log.Warn().Str("connection", c.id).Str("path", c.config.Path).Msg("Database connection already open")
		return nil
	}

	if !c.config.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(c.config.Path), 0o755); err != nil {
			return &ConnectionError{Path: c.config.Path, Err: err}
		}
	}

	handle, err := sql.Open(driverName, c.config.dsn())
	if err != nil {
		return &ConnectionError{Path: c.config.Path, Err: err}
	}

	maxConns := c.config.maxOpenConns()
	handle.SetMaxOpenConns(maxConns)
	handle.SetMaxIdleConns(maxConns)
	handle.SetConnMaxLifetime(0)

	// Reading the catalog forces SQLite to open and parse the file, which
	// surfaces permission and corruption errors here instead of on first use.
	ctx, cancel := context.WithTimeout(context.Background(), c.config.timeout())
	defer cancel()
	var tables int
	if err := handle.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&tables); err != nil {
		_ = handle.Close()
		log.Error().Err(err).Str("path", c.config.Path).Msg("Database connection failed")
		return &ConnectionError{Path: c.config.Path, Err: err}
	}

	c.handle = handle
	c.tx = nil
	c.lastInsertID = nil

	log.Info().
		Str("connection", c.id).
		Str("path", c.config.Path).
		Bool("readonly", c.config.ReadOnly).
		Int("max_conns", maxConns).
		Msg("Database connection established")

	return nil
}

// Disconnect closes the handle. Close failures are logged, not returned.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return
	}

	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Error().Err(err).Str("connection", c.id).Msg("Failed to rollback open transaction on disconnect")
		}
		c.tx = nil
	}

	if err := c.handle.Close(); err != nil {
		log.Error().Err(err).Str("connection", c.id).Msg("Failed to close database connection")
	}
	c.handle = nil

	log.Info().Str("connection", c.id).Str("path", c.config.Path).Msg("Database connection closed")
}

// IsConnected reports whether the handle is open.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle != nil
}

// executor returns the active transaction if one is open, the pool otherwise.
func (c *Connection) executor() (executor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.handle == nil {
		return nil, ErrNotConnected
	}
	if c.tx != nil {
		return c.tx, nil
	}
	return c.handle, nil
}

// ExecuteQuery runs a read statement and returns the open cursor. The
// caller must close it.
func (c *Connection) ExecuteQuery(query string, args ...any) (*sql.Rows, error) {
	ex, err := c.executor()
	if err != nil {
		return nil, err
	}

	rows, err := ex.Query(query, args...)
	if err != nil {
		log.Error().Err(err).Str("sql", query).Msg("Failed to execute query")
		return nil, &QueryError{SQL: query, Err: err}
	}
	return rows, nil
}

// QueryRows runs a read statement and materializes every row.
func (c *Connection) QueryRows(query string, args ...any) ([]Row, error) {
	rows, err := c.ExecuteQuery(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return result, nil
}

// QueryRow runs a read statement and returns its first row, or nil when
// the statement produced no rows.
func (c *Connection) QueryRow(query string, args ...any) (Row, error) {
	rows, err := c.QueryRows(query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ExecuteUpdate runs a mutating statement. Outside an explicit
// transaction the statement is committed immediately. Inside one, a
// failing statement rolls the transaction back before the error is
// returned.
func (c *Connection) ExecuteUpdate(query string, args ...any) (ExecResult, error) {
	ex, err := c.executor()
	if err != nil {
		return ExecResult{}, err
	}

	result, err := ex.Exec(query, args...)
	if err != nil {
		if tx, ok := ex.(*sql.Tx); ok {
			c.abortTransaction(tx)
		}
		log.Error().Err(err).Str("sql", query).Msg("Failed to execute update")
		return ExecResult{}, &QueryError{SQL: query, Err: err}
	}

	var res ExecResult
	if res.AffectedRows, err = result.RowsAffected(); err != nil {
		return ExecResult{}, &QueryError{SQL: query, Err: err}
	}

	if isInsertStatement(query) && res.AffectedRows > 0 {
		id, err := result.LastInsertId()
		if err == nil {
			res.LastInsertID = &id
			c.mu.Lock()
			c.lastInsertID = &id
			c.mu.Unlock()
		}
	}

	return res, nil
}

// LastInsertID returns the row id generated by the most recent successful
// INSERT on this Connection. Concurrent writers race on this value; prefer
// ExecResult.LastInsertID.
func (c *Connection) LastInsertID() *int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastInsertID
}

// ValidateConnection probes the handle with SELECT 1.
func (c *Connection) ValidateConnection() bool {
	ex, err := c.executor()
	if err != nil {
		return false
	}
	var one int
	if err := ex.QueryRow("SELECT 1").Scan(&one); err != nil {
		log.Debug().Err(err).Str("connection", c.id).Msg("Database probe failed")
		return false
	}
	return one == 1
}

func isInsertStatement(query string) bool {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < 7 {
		return false
	}
	head := strings.ToUpper(trimmed[:7])
	return strings.HasPrefix(head, "INSERT") || strings.HasPrefix(head, "REPLACE")
}

// scanRows converts a cursor into column-addressable rows.
func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		result = append(result, row)
	}

	return result, rows.Err()
}
