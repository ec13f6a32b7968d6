package schema

import (
	"fmt"
	"strings"
)

// Where converts a field path and value into column conditions. The path is
// dotted (lower.x). A path ending at a primitive or enum field yields one
// condition with the value converted to the column kind; a path ending at a
// nested field with an *Object value yields one condition per column.
// refKey resolves the key of a by-reference value and may be nil when no
// such path is queried.
func Where(s *Schema, path string, value interface{}, refKey RefKeyFunc) ([]Condition, error) {
	if path == "" {
		return nil, fmt.Errorf("field path cannot be empty")
	}

	l := s.Layout
	segments := strings.Split(path, ".")
	for i, name := range segments {
		fl, ok := l.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%s has no field %s", s.Table, strings.Join(segments[:i+1], "."))
		}
		cols := l.Columns[fl.Start : fl.Start+fl.Width]
		last := i == len(segments)-1

		switch fl.Field.Kind {
		case KindPrimitive, KindEnum:
			if !last {
				return nil, fmt.Errorf("%s: %s is not a record", path, name)
			}
			return leafCondition(fl.Field, cols[0], value)
		case KindNested:
			if last {
				return nestedConditions(s.Table, path, fl, cols, value, refKey)
			}
			if fl.Ref != nil {
				// Only the referenced key columns are stored in this table.
				return refKeyCondition(path, fl, cols, segments[i+1:], value)
			}
			l = fl.Nested
		case KindRelation:
			return nil, fmt.Errorf("%s: cannot query by relation %s", path, name)
		default:
			return nil, fmt.Errorf("%s: unsupported field kind %v", path, fl.Field.Kind)
		}
	}
	return nil, fmt.Errorf("%s: path does not end at a field", path)
}

func leafCondition(f Field, c Column, value interface{}) ([]Condition, error) {
	if value == nil {
		return []Condition{{Column: c.Name}}, nil
	}
	v, err := normalizeValue(f, value)
	if err != nil {
		return nil, err
	}
	sv, err := leafStorage(f, v)
	if err != nil {
		return nil, err
	}
	return []Condition{{Column: c.Name, Value: sv}}, nil
}

func nestedConditions(table, path string, fl *FieldLayout, cols []Column, value interface{}, refKey RefKeyFunc) ([]Condition, error) {
	var values []interface{}
	switch {
	case value == nil:
		values = make([]interface{}, len(cols))
	default:
		child, ok := value.(*Object)
		if !ok || child.typ != fl.Field.Record {
			return nil, fmt.Errorf("%s: expected object of type %s, got %T", path, fl.Field.Record.name, value)
		}
		var err error
		values, err = appendField(table, path, fl, cols, child, refKey, make([]interface{}, 0, len(cols)))
		if err != nil {
			return nil, err
		}
	}
	conds := make([]Condition, len(cols))
	for i, c := range cols {
		conds[i] = Condition{Column: c.Name, Value: values[i]}
	}
	return conds, nil
}

func refKeyCondition(path string, fl *FieldLayout, cols []Column, rest []string, value interface{}) ([]Condition, error) {
	name := strings.Join(rest, "_")
	for i, ki := range fl.Ref.KeyColumns {
		kc := fl.Ref.Columns[ki]
		if kc.Name != name {
			continue
		}
		if value == nil {
			return []Condition{{Column: cols[i].Name}}, nil
		}
		v, err := defaultMapper.ToStorage(value, kc.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []Condition{{Column: cols[i].Name, Value: v}}, nil
	}
	return nil, fmt.Errorf("%s: only key columns of referenced table %s can be queried", path, fl.Ref.Table)
}
