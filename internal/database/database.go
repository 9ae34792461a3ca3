// Package database is the generic access layer over the companion
// application's SQLite files.
//
// It is split in three tiers: a Connection owns one physical handle, an
// Operator turns structured filter/sort/pagination requests into
// parameterized SQL against one Connection, and the Manager keeps the
// registry of named connections. Callers obtain Operators from the Manager
// only.
package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	driverName = "sqlite"

	// DefaultTimeoutSeconds is how long a connection waits on the file lock.
	DefaultTimeoutSeconds = 30

	// crossThreadPoolSize is the pool size used when a connection may be
	// shared between goroutines. SQLite serializes writers, so a small pool
	// is enough for concurrent readers.
	crossThreadPoolSize = 4
)

// ConnectionConfig describes how to open one SQLite file.
type ConnectionConfig struct {
	Path                string `json:"path" mapstructure:"path"`
	ReadOnly            bool   `json:"readonly" mapstructure:"readonly"`
	TimeoutSeconds      int    `json:"timeout" mapstructure:"timeout"`
	AllowCrossThreadUse bool   `json:"allow_cross_thread_use" mapstructure:"allow_cross_thread_use"`
}

// DefaultConnectionConfig returns the configuration used for a plain
// read-write database at path.
func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{
		Path:           path,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}

func (c ConnectionConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ConnectionConfig) maxOpenConns() int {
	if c.AllowCrossThreadUse {
		return crossThreadPoolSize
	}
	return 1
}

// dsn builds the modernc.org/sqlite data source name. Pragmas are applied
// to every pooled connection, so foreign keys stay enforced even when the
// pool replaces a connection.
func (c ConnectionConfig) dsn() string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.timeout().Milliseconds()))
	if c.ReadOnly {
		params.Set("mode", "ro")
	}
	return "file:" + uriPathEscaper.Replace(c.Path) + "?" + params.Encode()
}

// uriPathEscaper escapes the characters SQLite's URI parser would treat as
// delimiters or escapes inside the path.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// Row is one result row addressable by column name.
type Row map[string]any

// ColumnInfo is one entry of PRAGMA table_info.
type ColumnInfo struct {
	CID          int64  `json:"cid"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	NotNull      bool   `json:"notnull"`
	DefaultValue any    `json:"dflt_value"`
	PrimaryKey   bool   `json:"pk"`
}

// TableInfo describes a table and its live row count.
type TableInfo struct {
	Name        string       `json:"name"`
	ColumnCount int          `json:"column_count"`
	RowCount    int64        `json:"row_count"`
	Columns     []ColumnInfo `json:"columns"`
}

// DatabaseInfo describes a database file.
type DatabaseInfo struct {
	Path       string   `json:"path"`
	Size       int64    `json:"size"`
	TableCount int      `json:"table_count"`
	Tables     []string `json:"tables"`
}
