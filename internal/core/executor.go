package core

import (
	"context"
)

// RowAccessor is a forward-only cursor over a query result.
// Column indexes are 1-based and follow the column order of the table
// definition the query was issued against.
type RowAccessor interface {
	// Next advances to the next row. It returns false when the result is
	// exhausted or an error occurred (see Err).
	Next() bool

	// GetLong returns the value of the column as a 64-bit integer.
	GetLong(column int) (int64, error)

	// GetString returns the value of the column as text.
	GetString(column int) (string, error)

	// GetObject returns the raw value of the column. NULL is returned as nil.
	GetObject(column int) (interface{}, error)

	// Err returns the error, if any, that was encountered during iteration.
	Err() error

	// Close releases the cursor.
	Close() error
}

// StatementExecutor runs SQL text against a database connection.
// The engine only builds SQL text; it never parses results outside RowAccessor.
type StatementExecutor interface {
	// ExecuteQuery runs a SELECT statement and returns its rows.
	ExecuteQuery(ctx context.Context, query string) (RowAccessor, error)

	// Execute runs a statement that returns no rows.
	Execute(ctx context.Context, statement string) error

	// Close closes the underlying connection.
	Close() error
}
