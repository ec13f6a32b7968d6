package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Translator renders schemas and values as SQL text for one dialect.
type Translator struct {
	dialect Dialect
	mapper  *TypeMapper
}

// NewTranslator creates a translator for d. A nil dialect selects SQLite.
func NewTranslator(d Dialect) *Translator {
	if d == nil {
		d = SQLite
	}
	return &Translator{
		dialect: d,
		mapper:  NewTypeMapper(),
	}
}

// Dialect returns the dialect the translator renders for.
func (t *Translator) Dialect() Dialect { return t.dialect }

// CreateTable renders the DDL of a record table:
//
//	CREATE TABLE T (x INTEGER NOT NULL, PRIMARY KEY(x));
func (t *Translator) CreateTable(s *Schema, ifNotExists bool) string {
	return t.createTable(s.Table, s.Columns, s.KeyColumnNames(), ifNotExists)
}

// CreateRelationTable renders the DDL of a relation table.
func (t *Translator) CreateRelationTable(r *RelationTable, ifNotExists bool) string {
	return t.createTable(r.Table, r.Columns, r.KeyColumnNames(), ifNotExists)
}

// CreateTables renders the DDL of every table s needs, in creation order:
// referenced tables first, then s, then its relation tables.
func (t *Translator) CreateTables(s *Schema, ifNotExists bool) []string {
	var out []string
	seen := make(map[*Schema]bool)
	var visit func(*Schema)
	visit = func(s *Schema) {
		if seen[s] {
			return
		}
		seen[s] = true
		for _, dep := range s.Dependencies {
			visit(dep)
		}
		out = append(out, t.CreateTable(s, ifNotExists))
		for _, rel := range s.Relations {
			out = append(out, t.CreateRelationTable(rel, ifNotExists))
		}
	}
	visit(s)
	return out
}

func (t *Translator) createTable(table string, columns []Column, keys []string, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteByte(' ')
		b.WriteString(t.dialect.ColumnType(c.Type))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	if len(keys) > 0 {
		b.WriteString(", PRIMARY KEY(")
		b.WriteString(strings.Join(keys, ", "))
		b.WriteByte(')')
	}
	b.WriteString(");")
	return b.String()
}

// Literal renders a storage value as a SQL literal: NULL, integers and
// doubles in their textual form, booleans as 0/1 and strings quoted.
func (t *Translator) Literal(v interface{}) string {
	return t.literal(v, t.dialect.QuoteString)
}

// queryLiteral renders v for a condition of an executed query. A dialect
// whose string literals can resolve to a column inside a condition
// supplies a separate value quoting.
func (t *Translator) queryLiteral(v interface{}) string {
	if vq, ok := t.dialect.(valueQuoter); ok {
		return t.literal(v, vq.QuoteValue)
	}
	return t.Literal(v)
}

func (t *Translator) literal(v interface{}, quote func(string) string) string {
	switch c := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if c {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(c, 10)
	case int32:
		return strconv.FormatInt(int64(c), 10)
	case int:
		return strconv.Itoa(c)
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64)
	case string:
		return quote(c)
	default:
		s, err := t.mapper.toString(v)
		if err != nil {
			s = fmt.Sprint(v)
		}
		return quote(s)
	}
}

// Insert renders an INSERT statement. With ifAbsent set the statement is a
// no-op when the primary key already exists.
func (t *Translator) Insert(table string, columns []string, values []interface{}, ifAbsent bool) string {
	literals := make([]string, len(values))
	for i, v := range values {
		literals[i] = t.Literal(v)
	}
	cols := strings.Join(columns, ", ")
	vals := strings.Join(literals, ", ")
	if ifAbsent {
		return t.dialect.InsertIfAbsent(table, cols, vals)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);", table, cols, vals)
}

// Condition is an equality test on one column. A nil Value matches NULL.
type Condition struct {
	Column string
	Value  interface{}
}

// WhereClause renders conditions joined by AND, without the WHERE keyword,
// using the statement literal form:
//
//	lower_x="5" AND lower_y=6
//
// Under SQLite a double-quoted value that names a column of the queried
// table compares against that column, so the clause is for display and
// Select renders the executed form.
func (t *Translator) WhereClause(conds []Condition) string {
	return t.whereClause(conds, t.Literal)
}

func (t *Translator) whereClause(conds []Condition, literal func(interface{}) string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		if c.Value == nil {
			parts[i] = c.Column + " IS NULL"
			continue
		}
		parts[i] = c.Column + "=" + literal(c.Value)
	}
	return strings.Join(parts, " AND ")
}

// Select renders SELECT * FROM table [WHERE ...] [ORDER BY ...]; with
// string values in the dialect's query quoting.
func (t *Translator) Select(table string, conds []Condition, orderBy ...string) string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(table)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(t.whereClause(conds, t.queryLiteral))
	}
	if len(orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(orderBy, ", "))
	}
	b.WriteByte(';')
	return b.String()
}

// SelectByKey renders the query for the row of s whose key columns equal
// key, which is in the order of s.KeyColumns.
func (t *Translator) SelectByKey(s *Schema, key []interface{}) (string, error) {
	if len(key) != len(s.KeyColumns) {
		return "", fmt.Errorf("table %s has %d key columns, got %d values", s.Table, len(s.KeyColumns), len(key))
	}
	conds := make([]Condition, len(key))
	for i, ki := range s.KeyColumns {
		v, err := t.mapper.ToStorage(key[i], s.Columns[ki].Type)
		if err != nil {
			return "", fmt.Errorf("key column %s: %w", s.Columns[ki].Name, err)
		}
		conds[i] = Condition{Column: s.Columns[ki].Name, Value: v}
	}
	return t.Select(s.Table, conds), nil
}

// SelectElements renders the query for the relation rows owned by the
// record with the given key, lists ordered by position.
func (t *Translator) SelectElements(r *RelationTable, ownerKey []interface{}) (string, error) {
	if len(ownerKey) != len(r.OwnerColumns) {
		return "", fmt.Errorf("relation %s has %d owner columns, got %d values", r.Table, len(r.OwnerColumns), len(ownerKey))
	}
	conds := make([]Condition, len(ownerKey))
	for i, c := range r.OwnerColumns {
		v, err := t.mapper.ToStorage(ownerKey[i], c.Type)
		if err != nil {
			return "", fmt.Errorf("owner column %s: %w", c.Name, err)
		}
		conds[i] = Condition{Column: c.Name, Value: v}
	}
	if r.Kind == RelationList {
		return t.Select(r.Table, conds, PositionColumn), nil
	}
	return t.Select(r.Table, conds), nil
}

// MaxCounter renders the query for the highest counter stored in an auto-id
// table.
func (t *Translator) MaxCounter(table string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s;", CounterColumn, table)
}
