package read

import (
	"fmt"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/key"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

// resultSet is a fully buffered query result. Decoding works on a snapshot
// so nested lookups never run while the statement's cursor is still open.
type resultSet struct {
	rows [][]interface{}
	pos  int
}

// collect drains rows, reading width columns of each, and closes it.
func collect(rows core.RowAccessor, width int) (*resultSet, error) {
	defer rows.Close()

	rs := &resultSet{}
	for rows.Next() {
		values := make([]interface{}, width)
		for i := range values {
			v, err := rows.GetObject(i + 1)
			if err != nil {
				return nil, fmt.Errorf("failed to read column %d: %w", i+1, err)
			}
			values[i] = v
		}
		rs.rows = append(rs.rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *resultSet) Len() int { return len(r.rows) }

func (r *resultSet) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *resultSet) GetObject(column int) (interface{}, error) {
	if r.pos == 0 || r.pos > len(r.rows) {
		return nil, fmt.Errorf("no current row")
	}
	row := r.rows[r.pos-1]
	if column < 1 || column > len(row) {
		return nil, fmt.Errorf("column index %d out of range [1,%d]", column, len(row))
	}
	return row[column-1], nil
}

func (r *resultSet) GetLong(column int) (int64, error) {
	raw, err := r.GetObject(column)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, fmt.Errorf("column %d is NULL", column)
	}
	v, err := key.Normalize(raw, schema.PrimitiveLong)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *resultSet) GetString(column int) (string, error) {
	raw, err := r.GetObject(column)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", fmt.Errorf("column %d is NULL", column)
	}
	v, err := key.Normalize(raw, schema.PrimitiveString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *resultSet) Err() error   { return nil }
func (r *resultSet) Close() error { return nil }
