package schema

import (
	"fmt"
)

// RefKeyFunc resolves the key column values of an object stored in its own
// table, in the order of ref.KeyColumns.
type RefKeyFunc func(ref *Schema, child *Object) ([]interface{}, error)

// Flatten returns the storage value of every column of the record layout for
// obj, in column order. Generated auto-id columns are not included.
func (s *Schema) Flatten(obj *Object, refKey RefKeyFunc) ([]interface{}, error) {
	if obj == nil || obj.typ != s.Type {
		return nil, fmt.Errorf("object does not belong to table %s", s.Table)
	}
	return s.Layout.appendValues(s.Table, "", obj, refKey, make([]interface{}, 0, len(s.Layout.Columns)))
}

// FlattenElement returns the element columns of one relation row.
func (r *RelationTable) FlattenElement(el *Object, refKey RefKeyFunc) ([]interface{}, error) {
	cols := r.Columns[r.Element.Start : r.Element.Start+r.Element.Width]
	return appendField(r.Table, ElementField, r.Element, cols, el, refKey, make([]interface{}, 0, len(cols)))
}

func (l *Layout) appendValues(table, path string, obj *Object, refKey RefKeyFunc, out []interface{}) ([]interface{}, error) {
	var err error
	for _, fl := range l.Fields {
		cols := l.Columns[fl.Start : fl.Start+fl.Width]
		out, err = appendField(table, joinPath(path, fl.Field.Name), fl, cols, obj.values[fl.Index], refKey, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendField(table, path string, fl *FieldLayout, cols []Column, v interface{}, refKey RefKeyFunc, out []interface{}) ([]interface{}, error) {
	if v == nil {
		if err := checkAbsent(table, path, fl.Field, cols); err != nil {
			return nil, err
		}
		return append(out, make([]interface{}, len(cols))...), nil
	}

	switch fl.Field.Kind {
	case KindPrimitive, KindEnum:
		sv, err := leafStorage(fl.Field, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", table, path, err)
		}
		return append(out, sv), nil
	case KindNested:
		child, ok := v.(*Object)
		if !ok {
			return nil, fmt.Errorf("%s.%s: expected *Object, got %T", table, path, v)
		}
		if fl.Ref == nil {
			return fl.Nested.appendValues(table, path, child, refKey, out)
		}
		if refKey == nil {
			return nil, fmt.Errorf("%s.%s: no key resolver for referenced table %s", table, path, fl.Ref.Table)
		}
		keyValues, err := refKey(fl.Ref, child)
		if err != nil {
			return nil, err
		}
		if len(keyValues) != len(cols) {
			return nil, fmt.Errorf("%s.%s: referenced key has %d values, want %d", table, path, len(keyValues), len(cols))
		}
		return append(out, keyValues...), nil
	default:
		// Relations have no columns in the owner row.
		return out, nil
	}
}
