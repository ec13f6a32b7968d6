package schema

import (
	"fmt"
	"math"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// AutoID is the generated key of a record type that declares no key fields.
type AutoID struct {
	Hash    int32
	Counter int64
}

// Object is an instance of a RecordType. Values are held by field position
// in their canonical Go form:
//
//	primitive   bool, int32, int64, float64, string
//	enum        string (a member of the enum)
//	nested      *Object
//	list        []*Object
//	map         map[string]*Object
//
// An unset or absent value is nil.
type Object struct {
	typ    *RecordType
	values []interface{}
	autoID *AutoID
}

var defaultMapper = NewTypeMapper()

// NewObject creates an empty instance of t.
func NewObject(t *RecordType) *Object {
	return &Object{
		typ:    t,
		values: make([]interface{}, len(t.fields)),
	}
}

// Type returns the record type of the object.
func (o *Object) Type() *RecordType { return o.typ }

// Get returns the value of the named field, or nil if it is unset or unknown.
func (o *Object) Get(name string) interface{} {
	_, i, ok := o.typ.Lookup(name)
	if !ok {
		return nil
	}
	return o.values[i]
}

// ValueAt returns the value of the i-th field.
func (o *Object) ValueAt(i int) interface{} { return o.values[i] }

// Set assigns the named field, converting numeric and boolean inputs to the
// field's canonical type. A nil value clears the field.
func (o *Object) Set(name string, value interface{}) error {
	f, i, ok := o.typ.Lookup(name)
	if !ok {
		return fmt.Errorf("%s has no field %q", o.typ.name, name)
	}
	v, err := normalizeValue(f, value)
	if err != nil {
		return fmt.Errorf("field %s.%s: %w", o.typ.name, name, err)
	}
	o.values[i] = v
	return nil
}

// MustSet is Set for fixtures and literals; it panics on error.
func (o *Object) MustSet(name string, value interface{}) *Object {
	if err := o.Set(name, value); err != nil {
		panic(err)
	}
	return o
}

// AutoID returns the generated key, if one has been assigned.
func (o *Object) AutoID() (AutoID, bool) {
	if o.autoID == nil {
		return AutoID{}, false
	}
	return *o.autoID, true
}

// SetAutoID fixes the generated key of the object.
func (o *Object) SetAutoID(id AutoID) {
	o.autoID = &id
}

func normalizeValue(f Field, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindPrimitive:
		return defaultMapper.ToValue(value, f.Primitive)
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			st, isStringer := value.(fmt.Stringer)
			if !isStringer {
				return nil, fmt.Errorf("enum %s expects a string, got %T", f.Enum.Name, value)
			}
			s = st.String()
		}
		return f.Enum.Parse(s)
	case KindNested:
		child, ok := value.(*Object)
		if !ok {
			return nil, fmt.Errorf("expected *Object of type %s, got %T", f.Record.name, value)
		}
		if child == nil {
			return nil, nil
		}
		if child.typ != f.Record {
			return nil, fmt.Errorf("expected object of type %s, got %s", f.Record.name, child.typ.name)
		}
		return child, nil
	case KindRelation:
		return normalizeRelation(f, value)
	default:
		return nil, &core.SchemaDefinitionError{Reason: fmt.Sprintf("field %s has unsupported kind %v", f.Name, f.Kind)}
	}
}

func normalizeRelation(f Field, value interface{}) (interface{}, error) {
	check := func(el *Object) error {
		if el == nil {
			return fmt.Errorf("relation %s contains a nil element", f.Name)
		}
		if el.typ != f.Record {
			return fmt.Errorf("relation %s expects elements of type %s, got %s", f.Name, f.Record.name, el.typ.name)
		}
		return nil
	}
	switch f.Relation {
	case RelationList:
		list, ok := value.([]*Object)
		if !ok {
			return nil, fmt.Errorf("list %s expects []*Object, got %T", f.Name, value)
		}
		for _, el := range list {
			if err := check(el); err != nil {
				return nil, err
			}
		}
		return list, nil
	case RelationMap:
		m, ok := value.(map[string]*Object)
		if !ok {
			return nil, fmt.Errorf("map %s expects map[string]*Object, got %T", f.Name, value)
		}
		for _, el := range m {
			if err := check(el); err != nil {
				return nil, err
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("relation %s has unsupported relation kind %d", f.Name, f.Relation)
	}
}

// Equal reports whether a and b hold the same values field for field,
// recursing into nested records and relations. Generated keys are ignored.
func Equal(a, b *Object) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.typ != b.typ {
		return false
	}
	for i, f := range a.typ.fields {
		if !valueEqual(f, a.values[i], b.values[i]) {
			return false
		}
	}
	return true
}

func valueEqual(f Field, x, y interface{}) bool {
	if x == nil || y == nil {
		return isEmpty(x) && isEmpty(y)
	}
	switch f.Kind {
	case KindNested:
		return Equal(x.(*Object), y.(*Object))
	case KindRelation:
		switch xs := x.(type) {
		case []*Object:
			ys := y.([]*Object)
			if len(xs) != len(ys) {
				return false
			}
			for i := range xs {
				if !Equal(xs[i], ys[i]) {
					return false
				}
			}
			return true
		case map[string]*Object:
			ys := y.(map[string]*Object)
			if len(xs) != len(ys) {
				return false
			}
			for k, xv := range xs {
				yv, ok := ys[k]
				if !ok || !Equal(xv, yv) {
					return false
				}
			}
			return true
		}
		return false
	default:
		if fx, ok := x.(float64); ok {
			fy, ok := y.(float64)
			return ok && (fx == fy || (math.IsNaN(fx) && math.IsNaN(fy)))
		}
		return x == y
	}
}

// isEmpty treats nil and empty relations alike: an empty collection has no
// rows and reads back as empty.
func isEmpty(v interface{}) bool {
	switch c := v.(type) {
	case nil:
		return true
	case []*Object:
		return len(c) == 0
	case map[string]*Object:
		return len(c) == 0
	case *Object:
		return c == nil
	default:
		return false
	}
}
