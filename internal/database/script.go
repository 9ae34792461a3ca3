package database

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ExecuteScript runs a multi-statement SQL script in one transaction.
// Statements end at a line terminated by ';'. Lines starting with "--" are
// skipped. Returns the number of statements executed.
func (c *Connection) ExecuteScript(script string) (int, error) {
	statements := splitSQLStatements(script)
	if len(statements) == 0 {
		return 0, nil
	}

	err := c.WithTransaction(func() error {
		for i, stmt := range statements {
			if _, err := c.ExecuteUpdate(stmt); err != nil {
				return fmt.Errorf("script statement %d failed: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Debug().Str("connection", c.id).Int("statements", len(statements)).Msg("Script executed")
	return len(statements), nil
}

// splitSQLStatements splits a SQL string into individual statements.
// It handles comments and only returns non-empty statements.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	for line := range strings.SplitSeq(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}

	return statements
}
