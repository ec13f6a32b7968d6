package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Dialect captures the parts of SQL text generation that differ between
// engines: column types, string literal quoting and insert-if-absent syntax.
type Dialect interface {
	// Name returns the dialect identifier (e.g. "sqlite").
	Name() string

	// ColumnType returns the SQL type used for a column of kind p.
	ColumnType(p Primitive) string

	// QuoteString renders s as a string literal.
	QuoteString(s string) string

	// InsertIfAbsent renders an insert that is a no-op when a row with the
	// same primary key already exists.
	InsertIfAbsent(table, columns, values string) string
}

var (
	dialectRegistry      = make(map[string]Dialect)
	dialectRegistryMutex sync.RWMutex
)

// RegisterDialect makes a dialect available by name.
// Panics if d is nil or a dialect with the same name is already registered.
func RegisterDialect(d Dialect) {
	if d == nil {
		panic("dialect cannot be nil")
	}
	dialectRegistryMutex.Lock()
	defer dialectRegistryMutex.Unlock()

	if _, exists := dialectRegistry[d.Name()]; exists {
		panic(fmt.Sprintf("dialect %q is already registered", d.Name()))
	}
	dialectRegistry[d.Name()] = d
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (Dialect, error) {
	dialectRegistryMutex.RLock()
	defer dialectRegistryMutex.RUnlock()

	d, ok := dialectRegistry[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(dialectRegistry))
		for n := range dialectRegistry {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unsupported dialect %q (supported: %s)", name, strings.Join(names, ", "))
	}
	return d, nil
}

func quoteWith(s string, q string) string {
	return q + strings.ReplaceAll(s, q, q+q) + q
}

// valueQuoter is implemented by dialects that quote values in query
// conditions differently from values in statements.
type valueQuoter interface {
	QuoteValue(s string) string
}

// SQLite accepts double-quoted string literals when they cannot resolve to
// an identifier. Statements keep that form; conditions use single quotes
// since a value equal to a column name would compare against the column.
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) ColumnType(p Primitive) string {
	switch p {
	case PrimitiveLong:
		return "BIGINT"
	case PrimitiveDouble:
		return "DOUBLE"
	case PrimitiveString:
		return "TEXT"
	default:
		return "INTEGER"
	}
}

func (sqliteDialect) QuoteString(s string) string { return quoteWith(s, `"`) }

func (sqliteDialect) QuoteValue(s string) string { return quoteWith(s, `'`) }

func (sqliteDialect) InsertIfAbsent(table, columns, values string) string {
	return "INSERT OR IGNORE INTO " + table + " (" + columns + ") VALUES (" + values + ");"
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) ColumnType(p Primitive) string {
	switch p {
	case PrimitiveLong:
		return "BIGINT"
	case PrimitiveDouble:
		return "DOUBLE PRECISION"
	case PrimitiveString:
		return "TEXT"
	default:
		return "INTEGER"
	}
}

func (postgresDialect) QuoteString(s string) string { return quoteWith(s, `'`) }

func (postgresDialect) InsertIfAbsent(table, columns, values string) string {
	return "INSERT INTO " + table + " (" + columns + ") VALUES (" + values + ") ON CONFLICT DO NOTHING;"
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) ColumnType(p Primitive) string {
	switch p {
	case PrimitiveLong:
		return "BIGINT"
	case PrimitiveDouble:
		return "DOUBLE"
	case PrimitiveString:
		return "VARCHAR(255)"
	default:
		return "INTEGER"
	}
}

func (mysqlDialect) QuoteString(s string) string {
	// Backslash is an escape character in MySQL string literals by default.
	return quoteWith(strings.ReplaceAll(s, `\`, `\\`), `'`)
}

func (mysqlDialect) InsertIfAbsent(table, columns, values string) string {
	return "INSERT IGNORE INTO " + table + " (" + columns + ") VALUES (" + values + ");"
}

// Built-in dialects.
var (
	SQLite   Dialect = sqliteDialect{}
	Postgres Dialect = postgresDialect{}
	MySQL    Dialect = mysqlDialect{}
)

func init() {
	RegisterDialect(SQLite)
	RegisterDialect(Postgres)
	RegisterDialect(MySQL)
}
