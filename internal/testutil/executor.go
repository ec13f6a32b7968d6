// Package testutil provides an in-memory StatementExecutor for tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// Executor records executed statements and answers queries from rows
// registered per query text. Unknown queries return no rows.
type Executor struct {
	mu         sync.Mutex
	statements []string
	queries    []string
	results    map[string][][]interface{}

	// FailExec, when set, is consulted before each Execute; a non-nil
	// error fails the statement without recording it.
	FailExec func(statement string) error

	// FailQuery is FailExec for ExecuteQuery.
	FailQuery func(query string) error

	closed bool
}

// NewExecutor creates an empty executor.
func NewExecutor() *Executor {
	return &Executor{results: make(map[string][][]interface{})}
}

// AddRows appends rows to the result of query.
func (e *Executor) AddRows(query string, rows ...[]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[query] = append(e.results[query], rows...)
}

// Statements returns the executed statements in order.
func (e *Executor) Statements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.statements...)
}

// Queries returns the queries issued in order.
func (e *Executor) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}

// Closed reports whether Close was called.
func (e *Executor) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Executor) ExecuteQuery(ctx context.Context, query string) (core.RowAccessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.FailQuery != nil {
		if err := e.FailQuery(query); err != nil {
			return nil, err
		}
	}
	e.queries = append(e.queries, query)
	rows := make([][]interface{}, len(e.results[query]))
	copy(rows, e.results[query])
	return &Rows{rows: rows}, nil
}

func (e *Executor) Execute(ctx context.Context, statement string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.FailExec != nil {
		if err := e.FailExec(statement); err != nil {
			return err
		}
	}
	e.statements = append(e.statements, statement)
	return nil
}

func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Rows is a RowAccessor over fixed values.
type Rows struct {
	rows   [][]interface{}
	pos    int
	closed bool
}

// NewRows creates a cursor over rows.
func NewRows(rows ...[]interface{}) *Rows {
	return &Rows{rows: rows}
}

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) GetObject(column int) (interface{}, error) {
	if r.pos == 0 || r.pos > len(r.rows) {
		return nil, fmt.Errorf("no current row")
	}
	row := r.rows[r.pos-1]
	if column < 1 || column > len(row) {
		return nil, fmt.Errorf("column index %d out of range [1,%d]", column, len(row))
	}
	return row[column-1], nil
}

func (r *Rows) GetLong(column int) (int64, error) {
	v, err := r.GetObject(column)
	if err != nil {
		return 0, err
	}
	switch c := v.(type) {
	case int64:
		return c, nil
	case int:
		return int64(c), nil
	default:
		return 0, fmt.Errorf("column %d holds %T", column, v)
	}
}

func (r *Rows) GetString(column int) (string, error) {
	v, err := r.GetObject(column)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column %d holds %T", column, v)
	}
	return s, nil
}

func (r *Rows) Err() error { return nil }

func (r *Rows) Close() error {
	r.closed = true
	return nil
}

// CountingAllocator is a SequenceAllocator counting from 1 per table.
type CountingAllocator struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewCountingAllocator creates an allocator with every table at 0.
func NewCountingAllocator() *CountingAllocator {
	return &CountingAllocator{counters: make(map[string]int64)}
}

func (a *CountingAllocator) Next(ctx context.Context, table string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters[table]++
	return a.counters[table], nil
}

func (a *CountingAllocator) Close() error { return nil }
