// Package database runs the engine's SQL text through database/sql.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

// SQLDatabase implements core.StatementExecutor over a database/sql pool.
type SQLDatabase struct {
	db      *sql.DB
	driver  string
	dialect schema.Dialect
	closed  atomic.Bool
	logger  *zap.SugaredLogger
}

// Open connects to the database described by config and checks the
// connection.
func Open(config Config, logger *zap.SugaredLogger) (*SQLDatabase, error) {
	driver, err := lookupDriver(config.Type)
	if err != nil {
		return nil, err
	}
	dsn := config.DSN
	if dsn == "" {
		if dsn, err = driver.DSN(config); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	timeout := config.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewFromDB(db, driver.Name(), logger), nil
}

// NewFromDB wraps an already opened pool. driver selects the dialect.
func NewFromDB(db *sql.DB, driver string, logger *zap.SugaredLogger) *SQLDatabase {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d, ok := lookupDriverByName(driver)
	var dialect schema.Dialect = schema.SQLite
	if ok {
		dialect = d.Dialect()
	}
	return &SQLDatabase{
		db:      db,
		driver:  driver,
		dialect: dialect,
		logger:  logger.Named("database"),
	}
}

// Dialect returns the SQL dialect of the connected engine.
func (s *SQLDatabase) Dialect() schema.Dialect { return s.dialect }

// ExecuteQuery runs a SELECT statement and returns its rows.
func (s *SQLDatabase) ExecuteQuery(ctx context.Context, query string) (core.RowAccessor, error) {
	if s.closed.Load() {
		return nil, &core.StatementExecutionError{SQL: query, Err: ErrClosed}
	}
	s.logger.Debugw("executing query", "sql", query)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.logger.Errorw("query failed", "sql", query, "error", err)
		return nil, &core.StatementExecutionError{SQL: query, Err: err}
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, &core.StatementExecutionError{SQL: query, Err: err}
	}
	return &sqlRows{rows: rows, sql: query, values: make([]interface{}, len(columns))}, nil
}

// Execute runs a statement that returns no rows.
func (s *SQLDatabase) Execute(ctx context.Context, statement string) error {
	if s.closed.Load() {
		return &core.StatementExecutionError{SQL: statement, Err: ErrClosed}
	}
	s.logger.Debugw("executing statement", "sql", statement)
	result, err := s.db.ExecContext(ctx, statement)
	if err != nil {
		s.logger.Errorw("statement failed", "sql", statement, "error", err)
		return &core.StatementExecutionError{SQL: statement, Err: err}
	}
	if affected, err := result.RowsAffected(); err == nil {
		s.logger.Debugw("statement executed", "rows_affected", affected)
	}
	return nil
}

// Tables returns the names of the base tables of the current schema.
func (s *SQLDatabase) Tables(ctx context.Context) ([]string, error) {
	d, ok := lookupDriverByName(s.driver)
	if !ok {
		return nil, fmt.Errorf("listing tables is not supported for driver %s", s.driver)
	}
	query := d.TablesQuery()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &core.StatementExecutionError{SQL: query, Err: err}
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Close closes the database connection.
func (s *SQLDatabase) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

var mapper = schema.NewTypeMapper()

// sqlRows adapts sql.Rows to core.RowAccessor. Each row is scanned into
// raw values when Next is called.
type sqlRows struct {
	rows   *sql.Rows
	sql    string
	values []interface{}
	err    error
}

func (r *sqlRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	ptrs := make([]interface{}, len(r.values))
	for i := range r.values {
		r.values[i] = nil
		ptrs[i] = &r.values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = err
		return false
	}
	return true
}

func (r *sqlRows) GetObject(column int) (interface{}, error) {
	if column < 1 || column > len(r.values) {
		return nil, fmt.Errorf("column index %d out of range [1,%d]", column, len(r.values))
	}
	return r.values[column-1], nil
}

func (r *sqlRows) GetLong(column int) (int64, error) {
	raw, err := r.GetObject(column)
	if err != nil {
		return 0, err
	}
	v, err := mapper.FromStorage(raw, schema.PrimitiveLong)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("column %d is NULL", column)
	}
	return v.(int64), nil
}

func (r *sqlRows) GetString(column int) (string, error) {
	raw, err := r.GetObject(column)
	if err != nil {
		return "", err
	}
	v, err := mapper.FromStorage(raw, schema.PrimitiveString)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", fmt.Errorf("column %d is NULL", column)
	}
	return v.(string), nil
}

func (r *sqlRows) Err() error {
	if r.err != nil {
		return &core.StatementExecutionError{SQL: r.sql, Err: r.err}
	}
	if err := r.rows.Err(); err != nil {
		return &core.StatementExecutionError{SQL: r.sql, Err: err}
	}
	return nil
}

func (r *sqlRows) Close() error {
	return r.rows.Close()
}
