package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// Names of the generated key columns of auto-id tables.
const (
	HashColumn    = "_hash"
	CounterColumn = "_counter"
)

// Names of the index columns of relation tables.
const (
	OwnerPrefix    = "owner_"
	PositionColumn = "position"
	MapKeyColumn   = "map_key"
	ElementField   = "value"
)

// Column is one leaf column of a table.
type Column struct {
	Name     string
	Type     Primitive
	Nullable bool
	Key      bool
}

// FieldLayout places one field of a record within a flattened column list.
// Exactly one of Nested, Ref and Relation is set for nested and relation
// fields.
type FieldLayout struct {
	Field Field
	// Index is the field position in its record type, -1 for the synthetic
	// element field of a relation table.
	Index int
	// Start is the offset of the field's first column within the enclosing
	// column list; Width is its number of columns.
	Start int
	Width int

	Nested   *Layout
	Ref      *Schema
	Relation *RelationTable
}

// Layout is the flattened column list of a record type under a name prefix.
type Layout struct {
	Type    *RecordType
	Prefix  string
	Fields  []*FieldLayout
	Columns []Column
}

// Lookup returns the layout of the named field.
func (l *Layout) Lookup(name string) (*FieldLayout, bool) {
	for _, fl := range l.Fields {
		if fl.Field.Name == name {
			return fl, true
		}
	}
	return nil, false
}

// Schema is the table mapping of a record type.
type Schema struct {
	Table  string
	Type   *RecordType
	Layout *Layout

	// Columns is Layout.Columns followed by the generated key columns in
	// auto-id mode.
	Columns []Column

	// KeyColumns holds indexes into Columns, in column order.
	KeyColumns []int

	// AutoID is set when no field contributes a key column.
	AutoID bool

	// Dependencies are the tables this table references: by-reference
	// nested fields and by-reference relation elements.
	Dependencies []*Schema

	// Relations are the auxiliary tables of the collection relations.
	Relations []*RelationTable
}

// KeyColumnNames returns the names of the key columns.
func (s *Schema) KeyColumnNames() []string {
	names := make([]string, len(s.KeyColumns))
	for i, ki := range s.KeyColumns {
		names[i] = s.Columns[ki].Name
	}
	return names
}

// RelationTable is the auxiliary table of a collection relation. Its rows
// are (owner key columns, position or map key, element columns).
type RelationTable struct {
	Table string
	Owner *Schema
	// Path is the dotted field path of the relation within the owner.
	Path         string
	Kind         RelationKind
	OwnerColumns []Column
	IndexColumn  Column
	Element      *FieldLayout
	Columns      []Column
}

// KeyColumnNames returns the primary key columns of the relation table.
func (r *RelationTable) KeyColumnNames() []string {
	names := make([]string, 0, len(r.OwnerColumns)+1)
	for _, c := range r.OwnerColumns {
		names = append(names, c.Name)
	}
	return append(names, r.IndexColumn.Name)
}

// Builder derives table schemas from record types. Schemas are memoized: a
// type is built once and the same *Schema is returned afterwards.
//
// Whether a nested record is stored inline or by reference depends on the
// set of registered types, so referenced types must be registered before the
// types that nest them are built.
type Builder struct {
	mu         sync.RWMutex
	registered map[*RecordType]bool
	tableNames map[string]string
	schemas    map[*RecordType]*Schema
	inlined    map[*RecordType]string
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		registered: make(map[*RecordType]bool),
		tableNames: make(map[string]string),
		schemas:    make(map[*RecordType]*Schema),
		inlined:    make(map[*RecordType]string),
	}
}

// Register declares t as a top-level table. Other types nesting t store a
// reference to its rows instead of flattening its fields.
func (b *Builder) Register(t *RecordType) error {
	if t == nil {
		return &core.SchemaDefinitionError{Reason: "record type cannot be nil"}
	}
	if !validIdentifier(t.name) {
		return &core.SchemaDefinitionError{Type: t.name, Reason: "type name is not a valid table name"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registered[t] {
		return nil
	}
	if owner, taken := b.tableNames[t.name]; taken {
		return &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("table name already used by %s", owner)}
	}
	if owner, ok := b.inlined[t]; ok {
		return &core.SchemaDefinitionError{
			Type:   t.name,
			Reason: fmt.Sprintf("already stored inline in %s; register referenced types before the types nesting them", owner),
		}
	}
	b.registered[t] = true
	b.tableNames[t.name] = t.name
	return nil
}

// IsRegistered reports whether t was registered.
func (b *Builder) IsRegistered(t *RecordType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.registered[t]
}

// Build returns the schema of t, building it on first use.
func (b *Builder) Build(t *RecordType) (*Schema, error) {
	if t == nil {
		return nil, &core.SchemaDefinitionError{Reason: "record type cannot be nil"}
	}

	b.mu.RLock()
	s, ok := b.schemas[t]
	b.mu.RUnlock()
	if ok {
		return s, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.build(t, nil)
}

type pendingRelation struct {
	name string
	path string
	fl   *FieldLayout
}

type buildState struct {
	b         *Builder
	table     string
	names     map[string]string
	stack     []*RecordType
	deps      []*Schema
	pending   []pendingRelation
	inlined   []*RecordType
	inElement bool
}

// build must be called with b.mu held.
func (b *Builder) build(t *RecordType, stack []*RecordType) (*Schema, error) {
	if s, ok := b.schemas[t]; ok {
		return s, nil
	}
	if err := checkCycle(t, stack); err != nil {
		return nil, err
	}
	if !validIdentifier(t.name) {
		return nil, &core.SchemaDefinitionError{Type: t.name, Reason: "type name is not a valid table name"}
	}

	st := &buildState{
		b:     b,
		table: t.name,
		names: make(map[string]string),
		stack: append(append([]*RecordType(nil), stack...), t),
	}
	layout, err := st.layout(t, "", "", true, false, false)
	if err != nil {
		return nil, err
	}

	s := &Schema{
		Table:   t.name,
		Type:    t,
		Layout:  layout,
		Columns: append([]Column(nil), layout.Columns...),
	}
	for i, c := range s.Columns {
		if c.Key {
			s.KeyColumns = append(s.KeyColumns, i)
		}
	}
	if len(s.KeyColumns) == 0 {
		s.AutoID = true
		for _, name := range []string{HashColumn, CounterColumn} {
			if err := st.claim(name, name); err != nil {
				return nil, err
			}
			s.KeyColumns = append(s.KeyColumns, len(s.Columns))
			s.Columns = append(s.Columns, Column{Name: name, Type: PrimitiveLong, Key: true})
		}
	}

	relNames := make(map[string]bool)
	for _, p := range st.pending {
		rel, err := st.relation(s, p)
		if err != nil {
			return nil, err
		}
		if relNames[rel.Table] {
			return nil, &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("relation table name %s is ambiguous", rel.Table)}
		}
		relNames[rel.Table] = true
		p.fl.Relation = rel
		s.Relations = append(s.Relations, rel)
	}
	s.Dependencies = st.deps

	b.schemas[t] = s
	for _, rel := range s.Relations {
		b.tableNames[rel.Table] = t.name
	}
	for _, it := range st.inlined {
		if _, ok := b.inlined[it]; !ok {
			b.inlined[it] = t.name
		}
	}
	return s, nil
}

func (st *buildState) claim(name, path string) error {
	if other, taken := st.names[name]; taken {
		return &core.SchemaDefinitionError{
			Type:   st.table,
			Reason: fmt.Sprintf("column %s is produced by both %s and %s", name, other, path),
		}
	}
	st.names[name] = path
	return nil
}

func (st *buildState) addDep(s *Schema) {
	for _, d := range st.deps {
		if d == s {
			return
		}
	}
	st.deps = append(st.deps, s)
}

func (st *buildState) layout(t *RecordType, prefix, path string, inKey, allKey, nullable bool) (*Layout, error) {
	if err := validateFields(t); err != nil {
		return nil, err
	}

	l := &Layout{Type: t, Prefix: prefix}
	for i, f := range t.fields {
		fieldKey := inKey && (f.key || allKey)
		fieldNullable := !fieldKey && (nullable || f.optional)
		fieldPath := joinPath(path, f.Name)
		name := prefix + f.Name

		fl := &FieldLayout{Field: f, Index: i, Start: len(l.Columns)}
		switch f.Kind {
		case KindPrimitive, KindEnum:
			if err := st.claim(name, fieldPath); err != nil {
				return nil, err
			}
			l.Columns = append(l.Columns, Column{
				Name:     name,
				Type:     storagePrimitive(f),
				Nullable: fieldNullable,
				Key:      fieldKey,
			})
		case KindNested:
			cols, nested, ref, err := st.nested(f, name, fieldPath, fieldKey, allKey, fieldNullable)
			if err != nil {
				return nil, err
			}
			l.Columns = append(l.Columns, cols...)
			fl.Nested = nested
			fl.Ref = ref
		case KindRelation:
			if f.key {
				return nil, &core.SchemaDefinitionError{Type: st.table, Reason: fmt.Sprintf("relation %s cannot be a key field", fieldPath)}
			}
			if st.inElement {
				return nil, &core.SchemaDefinitionError{Type: st.table, Reason: fmt.Sprintf("relation %s inside a relation element is not supported", fieldPath)}
			}
			st.pending = append(st.pending, pendingRelation{name: name, path: fieldPath, fl: fl})
		default:
			return nil, &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("field %s has unsupported kind %v", f.Name, f.Kind)}
		}
		fl.Width = len(l.Columns) - fl.Start
		l.Fields = append(l.Fields, fl)
	}
	return l, nil
}

// nested lays out a nested record field, by reference when its type is a
// registered table and inline otherwise.
func (st *buildState) nested(f Field, name, path string, fieldKey, allKey, nullable bool) ([]Column, *Layout, *Schema, error) {
	if err := checkCycle(f.Record, st.stack); err != nil {
		return nil, nil, nil, err
	}

	if st.b.registered[f.Record] {
		ref, err := st.b.build(f.Record, st.stack)
		if err != nil {
			return nil, nil, nil, err
		}
		cols := make([]Column, 0, len(ref.KeyColumns))
		for _, ki := range ref.KeyColumns {
			kc := ref.Columns[ki]
			cname := name + "_" + kc.Name
			if err := st.claim(cname, path+"."+kc.Name); err != nil {
				return nil, nil, nil, err
			}
			cols = append(cols, Column{Name: cname, Type: kc.Type, Nullable: nullable, Key: fieldKey})
		}
		st.addDep(ref)
		return cols, nil, ref, nil
	}

	childAll := fieldKey && (allKey || !f.Record.hasKeyFields())
	st.stack = append(st.stack, f.Record)
	child, err := st.layout(f.Record, name+"_", path, fieldKey, childAll, nullable)
	st.stack = st.stack[:len(st.stack)-1]
	if err != nil {
		return nil, nil, nil, err
	}
	// An absent optional record is stored as all NULLs, so a present one
	// needs a column that is never NULL.
	if f.optional && !hasRequiredColumn(child) {
		return nil, nil, nil, &core.SchemaDefinitionError{
			Type:   st.table,
			Reason: fmt.Sprintf("optional nested field %s must contain at least one required column", path),
		}
	}
	st.inlined = append(st.inlined, f.Record)
	return child.Columns, child, nil, nil
}

func (st *buildState) relation(owner *Schema, p pendingRelation) (*RelationTable, error) {
	f := p.fl.Field
	table := owner.Table + "_" + p.name
	if other, taken := st.b.tableNames[table]; taken {
		return nil, &core.SchemaDefinitionError{
			Type:   owner.Table,
			Reason: fmt.Sprintf("relation table %s collides with a table of %s", table, other),
		}
	}

	rel := &RelationTable{Table: table, Owner: owner, Path: p.path, Kind: f.Relation}
	es := &buildState{
		b:         st.b,
		table:     table,
		names:     make(map[string]string),
		stack:     st.stack,
		inElement: true,
	}
	for _, ki := range owner.KeyColumns {
		kc := owner.Columns[ki]
		c := Column{Name: OwnerPrefix + kc.Name, Type: kc.Type, Key: true}
		if err := es.claim(c.Name, "owner."+kc.Name); err != nil {
			return nil, err
		}
		rel.OwnerColumns = append(rel.OwnerColumns, c)
	}
	switch f.Relation {
	case RelationList:
		rel.IndexColumn = Column{Name: PositionColumn, Type: PrimitiveInt, Key: true}
	case RelationMap:
		rel.IndexColumn = Column{Name: MapKeyColumn, Type: PrimitiveString, Key: true}
	default:
		return nil, &core.SchemaDefinitionError{Type: owner.Table, Reason: fmt.Sprintf("relation %s has unsupported relation kind %d", p.path, f.Relation)}
	}
	if err := es.claim(rel.IndexColumn.Name, rel.IndexColumn.Name); err != nil {
		return nil, err
	}

	elem := Nested(ElementField, f.Record)
	cols, nested, ref, err := es.nested(elem, ElementField, p.path+"."+ElementField, false, false, false)
	if err != nil {
		return nil, err
	}
	start := len(rel.OwnerColumns) + 1
	rel.Element = &FieldLayout{Field: elem, Index: -1, Start: start, Width: len(cols), Nested: nested, Ref: ref}
	rel.Columns = append(append(append([]Column(nil), rel.OwnerColumns...), rel.IndexColumn), cols...)

	for _, d := range es.deps {
		st.addDep(d)
	}
	st.inlined = append(st.inlined, es.inlined...)
	return rel, nil
}

// hasRequiredColumn reports whether l has a column reached through
// non-optional fields only.
func hasRequiredColumn(l *Layout) bool {
	for _, fl := range l.Fields {
		if fl.Field.optional || fl.Width == 0 {
			continue
		}
		switch fl.Field.Kind {
		case KindPrimitive, KindEnum:
			return true
		case KindNested:
			if fl.Ref != nil || (fl.Nested != nil && hasRequiredColumn(fl.Nested)) {
				return true
			}
		}
	}
	return false
}

func checkCycle(t *RecordType, stack []*RecordType) error {
	for i, s := range stack {
		if s == t {
			names := make([]string, 0, len(stack)-i+1)
			for _, c := range stack[i:] {
				names = append(names, c.name)
			}
			names = append(names, t.name)
			return &core.SchemaDefinitionError{
				Type:   t.name,
				Reason: "cyclic record reference " + strings.Join(names, " -> "),
			}
		}
	}
	return nil
}

func validateFields(t *RecordType) error {
	if len(t.fields) == 0 {
		return &core.SchemaDefinitionError{Type: t.name, Reason: "record type has no fields"}
	}
	seen := make(map[string]bool, len(t.fields))
	for _, f := range t.fields {
		if !validIdentifier(f.Name) {
			return &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("field name %q is not a valid column name", f.Name)}
		}
		if seen[f.Name] {
			return &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("duplicate field %s", f.Name)}
		}
		seen[f.Name] = true

		switch f.Kind {
		case KindPrimitive:
			if f.Primitive < PrimitiveBool || f.Primitive > PrimitiveString {
				return &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("field %s has unsupported primitive %v", f.Name, f.Primitive)}
			}
		case KindEnum:
			if f.Enum == nil || len(f.Enum.Members) == 0 {
				return &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("enum field %s has no members", f.Name)}
			}
		case KindNested, KindRelation:
			if f.Record == nil {
				return &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("field %s has no record type", f.Name)}
			}
		default:
			return &core.SchemaDefinitionError{Type: t.name, Reason: fmt.Sprintf("field %s has unsupported kind %v", f.Name, f.Kind)}
		}
	}
	return nil
}

func storagePrimitive(f Field) Primitive {
	if f.Kind == KindEnum {
		return PrimitiveString
	}
	return f.Primitive
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
