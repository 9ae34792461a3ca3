package database

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every operation on a closed Connection.
	ErrNotConnected = errors.New("database not connected")
	// ErrConnection is the class of failures opening a database file.
	ErrConnection = errors.New("database connection failed")
	// ErrValidation is returned for requests rejected before any SQL runs.
	ErrValidation = errors.New("validation error")
	// ErrQuery is the class of statement failures surfaced by the engine.
	ErrQuery = errors.New("query failed")
	// ErrConnectionNotFound is returned when no connection is registered
	// under the requested name.
	ErrConnectionNotFound = errors.New("database connection not registered")
	// ErrTransactionActive is returned by BeginTransaction when the
	// connection already has an explicit transaction open.
	ErrTransactionActive = errors.New("transaction already active")
)

// ConnectionError reports a failure to open a database file.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to database %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// QueryError reports a statement rejected by the engine.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrQuery, e.Err}
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
