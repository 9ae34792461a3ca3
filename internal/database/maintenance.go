package database

import "fmt"

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats.
func (c *Connection) Optimize() error {
	if _, err := c.ExecuteUpdate("PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize database: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file to reclaim unused space. It cannot run
// inside an explicit transaction.
func (c *Connection) Vacuum() error {
	if c.InTransaction() {
		return fmt.Errorf("failed to vacuum database: %w", ErrTransactionActive)
	}
	if _, err := c.ExecuteUpdate("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
