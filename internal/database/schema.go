package database

import (
	"fmt"
	"os"
	"strings"
)

// GetTableInfo returns column metadata and the live row count of table, or
// nil when the table does not exist.
func (c *Connection) GetTableInfo(table string) (*TableInfo, error) {
	exists, err := c.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return nil, err
	}
	if exists == nil {
		return nil, nil
	}

	rows, err := c.QueryRows(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdentifier(table)))
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, ColumnInfo{
			CID:          asInt64(row["cid"]),
			Name:         asString(row["name"]),
			Type:         asString(row["type"]),
			NotNull:      asInt64(row["notnull"]) != 0,
			DefaultValue: row["dflt_value"],
			PrimaryKey:   asInt64(row["pk"]) != 0,
		})
	}

	countRow, err := c.QueryRow(fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", quoteIdentifier(table)))
	if err != nil {
		return nil, err
	}

	return &TableInfo{
		Name:        table,
		ColumnCount: len(columns),
		RowCount:    asInt64(countRow["count"]),
		Columns:     columns,
	}, nil
}

// GetDatabaseInfo returns the file size and the names of all user tables.
func (c *Connection) GetDatabaseInfo() (*DatabaseInfo, error) {
	rows, err := c.QueryRows("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, asString(row["name"]))
	}

	var size int64
	if stat, err := os.Stat(c.config.Path); err == nil {
		size = stat.Size()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat database file: %w", err)
	}

	return &DatabaseInfo{
		Path:       c.config.Path,
		Size:       size,
		TableCount: len(tables),
		Tables:     tables,
	}, nil
}

// quoteIdentifier quotes a table name for statements that cannot bind it.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
