package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// BeginTransaction opens an explicit transaction. Until it is committed or
// rolled back, every statement issued through this Connection runs inside
// it and nothing is auto-committed.
func (c *Connection) BeginTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return ErrNotConnected
	}
	if c.tx != nil {
		return ErrTransactionActive
	}

	tx, err := c.handle.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx

	log.Debug().Str("connection", c.id).Msg("Transaction started")
	return nil
}

// CommitTransaction commits the explicit transaction. It is a no-op when
// none is active.
func (c *Connection) CommitTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return ErrNotConnected
	}
	if c.tx == nil {
		return nil
	}

	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug().Str("connection", c.id).Msg("Transaction committed")
	return nil
}

// RollbackTransaction discards the explicit transaction. It is a no-op
// when none is active.
func (c *Connection) RollbackTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return ErrNotConnected
	}
	if c.tx == nil {
		return nil
	}

	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	log.Debug().Str("connection", c.id).Msg("Transaction rolled back")
	return nil
}

// InTransaction reports whether an explicit transaction is active.
func (c *Connection) InTransaction() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tx != nil
}

// WithTransaction runs fn inside an explicit transaction. Statements that
// fn issues through this Connection (or any Operator bound to it) join the
// transaction. It is committed when fn returns nil and rolled back
// otherwise, including when fn panics.
func (c *Connection) WithTransaction(fn func() error) error {
	if err := c.BeginTransaction(); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := c.RollbackTransaction(); rbErr != nil {
				log.Error().Err(rbErr).Str("connection", c.id).Msg("Failed to rollback transaction")
			}
			panic(p)
		}
	}()

	if err := fn(); err != nil {
		if rbErr := c.RollbackTransaction(); rbErr != nil {
			log.Error().Err(rbErr).Str("connection", c.id).Msg("Failed to rollback transaction")
		}
		return err
	}

	return c.CommitTransaction()
}

// abortTransaction rolls back tx after a failed statement, provided it is
// still the active transaction.
func (c *Connection) abortTransaction(tx *sql.Tx) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx != tx {
		return
	}
	c.tx = nil

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Error().Err(err).Str("connection", c.id).Msg("Failed to rollback transaction")
		return
	}
	log.Warn().Str("connection", c.id).Msg("Transaction rolled back after failed statement")
}
