package schema

import (
	"fmt"
	"math"
	"sort"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// SchemaValidator validates object graphs against a schema before anything
// is written for them.
type SchemaValidator struct {
	schema *Schema
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(schema *Schema) *SchemaValidator {
	return &SchemaValidator{schema: schema}
}

// ValidateObject checks obj and everything reachable from it: the object
// type, required and key values, enum membership and relation elements.
func (sv *SchemaValidator) ValidateObject(obj *Object) error {
	if obj == nil {
		return fmt.Errorf("object cannot be nil")
	}
	if sv.schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}
	if obj.typ != sv.schema.Type {
		return fmt.Errorf("object of type %s does not match table %s", obj.typ.name, sv.schema.Table)
	}
	return validateLayout(sv.schema.Table, "", sv.schema.Layout, obj, make(map[*Object]bool))
}

func validateLayout(table, path string, l *Layout, obj *Object, seen map[*Object]bool) error {
	if seen[obj] {
		return nil
	}
	seen[obj] = true

	for _, fl := range l.Fields {
		fieldPath := joinPath(path, fl.Field.Name)
		v := obj.values[fl.Index]
		if err := validateField(table, fieldPath, fl, l.Columns[fl.Start:fl.Start+fl.Width], v, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateField(table, path string, fl *FieldLayout, cols []Column, v interface{}, seen map[*Object]bool) error {
	if v == nil {
		return checkAbsent(table, path, fl.Field, cols)
	}

	f := fl.Field
	switch f.Kind {
	case KindPrimitive, KindEnum:
		_, err := leafStorage(f, v)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", table, path, err)
		}
		return nil
	case KindNested:
		child, ok := v.(*Object)
		if !ok || child.typ != f.Record {
			return fmt.Errorf("%s.%s: expected object of type %s, got %T", table, path, f.Record.name, v)
		}
		if fl.Ref != nil {
			return validateLayout(fl.Ref.Table, "", fl.Ref.Layout, child, seen)
		}
		return validateLayout(table, path, fl.Nested, child, seen)
	case KindRelation:
		rel := fl.Relation
		if rel == nil {
			return fmt.Errorf("%s.%s: relation has no table", table, path)
		}
		elems, err := relationElements(f, v)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", table, path, err)
		}
		for _, el := range elems {
			elCols := rel.Columns[rel.Element.Start : rel.Element.Start+rel.Element.Width]
			if err := validateField(rel.Table, ElementField, rel.Element, elCols, el.obj, seen); err != nil {
				return err
			}
		}
		return nil
	default:
		return &core.SchemaDefinitionError{Type: table, Reason: fmt.Sprintf("field %s has unsupported kind %v", path, f.Kind)}
	}
}

// checkAbsent reports whether a field may be left unset.
func checkAbsent(table, path string, f Field, cols []Column) error {
	for _, c := range cols {
		if c.Key {
			return &core.MissingKeyValueError{Table: table, Field: path}
		}
	}
	if f.Kind == KindRelation || f.optional {
		return nil
	}
	return fmt.Errorf("%s.%s: %w", table, path, core.ErrMissingValue)
}

// leafStorage returns the storage form of a primitive or enum value.
func leafStorage(f Field, v interface{}) (interface{}, error) {
	if f.Kind == KindEnum {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("enum %s expects a string, got %T", f.Enum.Name, v)
		}
		return f.Enum.Parse(s)
	}
	sv, err := defaultMapper.ToStorage(v, f.Primitive)
	if err != nil {
		return nil, err
	}
	if d, ok := sv.(float64); ok && (math.IsNaN(d) || math.IsInf(d, 0)) {
		return nil, fmt.Errorf("double value %v has no SQL literal form", d)
	}
	return sv, nil
}

// Element is one entry of a relation value. Index is the list position or
// the map key.
type Element struct {
	Index interface{}
	obj   *Object
}

// Object returns the element record.
func (e Element) Object() *Object { return e.obj }

// Elements returns the entries of a relation value in storage order: list
// order for lists and key order for maps.
func Elements(f Field, v interface{}) ([]Element, error) {
	return relationElements(f, v)
}

func relationElements(f Field, v interface{}) ([]Element, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case []*Object:
		out := make([]Element, len(c))
		for i, el := range c {
			if el == nil || el.typ != f.Record {
				return nil, fmt.Errorf("list element %d is not a %s", i, f.Record.name)
			}
			out[i] = Element{Index: int64(i), obj: el}
		}
		return out, nil
	case map[string]*Object:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]Element, len(keys))
		for i, k := range keys {
			el := c[k]
			if el == nil || el.typ != f.Record {
				return nil, fmt.Errorf("map entry %q is not a %s", k, f.Record.name)
			}
			out[i] = Element{Index: k, obj: el}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported relation value %T", v)
	}
}
