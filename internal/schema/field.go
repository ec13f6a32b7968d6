package schema

import (
	"fmt"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// Primitive is the kind of a single-column value.
type Primitive int

const (
	// PrimitiveBool is stored as an integer 0/1.
	PrimitiveBool Primitive = iota + 1
	// PrimitiveInt is a 32-bit signed integer.
	PrimitiveInt
	// PrimitiveLong is a 64-bit signed integer.
	PrimitiveLong
	// PrimitiveDouble is a 64-bit IEEE-754 float.
	PrimitiveDouble
	// PrimitiveString is text.
	PrimitiveString
)

func (p Primitive) String() string {
	switch p {
	case PrimitiveBool:
		return "bool"
	case PrimitiveInt:
		return "int"
	case PrimitiveLong:
		return "long"
	case PrimitiveDouble:
		return "double"
	case PrimitiveString:
		return "string"
	default:
		return fmt.Sprintf("primitive(%d)", int(p))
	}
}

// Kind classifies a field.
type Kind int

const (
	KindPrimitive Kind = iota + 1
	KindEnum
	KindNested
	KindRelation
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindEnum:
		return "enum"
	case KindNested:
		return "nested"
	case KindRelation:
		return "relation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RelationKind selects how a collection relation is materialized.
type RelationKind int

const (
	// RelationList is an ordered list; rows carry a position column.
	RelationList RelationKind = iota + 1
	// RelationMap is a string-keyed map; rows carry a map_key column.
	RelationMap
)

// EnumType is a named, ordered set of symbolic members.
type EnumType struct {
	Name    string
	Members []string
}

// NewEnum creates an enum type.
func NewEnum(name string, members ...string) *EnumType {
	return &EnumType{Name: name, Members: members}
}

// Parse returns the member matching text exactly.
func (e *EnumType) Parse(text string) (string, error) {
	for _, m := range e.Members {
		if m == text {
			return m, nil
		}
	}
	return "", &core.UnknownEnumValueError{Enum: e.Name, Value: text}
}

// Field describes one field of a record type. Build fields with the
// constructors below (Int, String, Nested, List, ...).
type Field struct {
	Name      string
	Kind      Kind
	Primitive Primitive
	Enum      *EnumType
	// Record is the nested type for KindNested and the element type for
	// KindRelation.
	Record   *RecordType
	Relation RelationKind

	key      bool
	optional bool
}

// Key marks the field as part of the record's key.
func (f Field) Key() Field {
	f.key = true
	return f
}

// Optional allows the field to be absent (nil).
func (f Field) Optional() Field {
	f.optional = true
	return f
}

// IsKey reports whether the field is key-marked.
func (f Field) IsKey() bool { return f.key }

// IsOptional reports whether the field may be absent.
func (f Field) IsOptional() bool { return f.optional }

func Bool(name string) Field   { return Field{Name: name, Kind: KindPrimitive, Primitive: PrimitiveBool} }
func Int(name string) Field    { return Field{Name: name, Kind: KindPrimitive, Primitive: PrimitiveInt} }
func Long(name string) Field   { return Field{Name: name, Kind: KindPrimitive, Primitive: PrimitiveLong} }
func Double(name string) Field { return Field{Name: name, Kind: KindPrimitive, Primitive: PrimitiveDouble} }
func String(name string) Field { return Field{Name: name, Kind: KindPrimitive, Primitive: PrimitiveString} }

// Enum declares a field holding a member of e.
func Enum(name string, e *EnumType) Field {
	return Field{Name: name, Kind: KindEnum, Enum: e, Primitive: PrimitiveString}
}

// Nested declares a field holding another record. It is stored inline unless
// t is registered as a table of its own.
func Nested(name string, t *RecordType) Field {
	return Field{Name: name, Kind: KindNested, Record: t}
}

// List declares an ordered one-to-many relation.
func List(name string, elem *RecordType) Field {
	return Field{Name: name, Kind: KindRelation, Record: elem, Relation: RelationList}
}

// Map declares a string-keyed one-to-many relation.
func Map(name string, elem *RecordType) Field {
	return Field{Name: name, Kind: KindRelation, Record: elem, Relation: RelationMap}
}

// RecordType is an immutable, ordered list of named fields. Its name doubles
// as the table name when the type is registered.
type RecordType struct {
	name   string
	fields []Field
	index  map[string]int
}

// NewRecordType declares a record type. Field names are checked when the
// schema is built.
func NewRecordType(name string, fields ...Field) *RecordType {
	t := &RecordType{
		name:   name,
		fields: append([]Field(nil), fields...),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range t.fields {
		if _, dup := t.index[f.Name]; !dup {
			t.index[f.Name] = i
		}
	}
	return t
}

// Name returns the type name.
func (t *RecordType) Name() string { return t.name }

// NumFields returns the number of declared fields.
func (t *RecordType) NumFields() int { return len(t.fields) }

// FieldAt returns the i-th field.
func (t *RecordType) FieldAt(i int) Field { return t.fields[i] }

// Fields returns a copy of the declared fields.
func (t *RecordType) Fields() []Field {
	return append([]Field(nil), t.fields...)
}

// Lookup returns the field with the given name and its position.
func (t *RecordType) Lookup(name string) (Field, int, bool) {
	i, ok := t.index[name]
	if !ok {
		return Field{}, -1, false
	}
	return t.fields[i], i, true
}

func (t *RecordType) hasKeyFields() bool {
	for _, f := range t.fields {
		if f.key {
			return true
		}
	}
	return false
}
