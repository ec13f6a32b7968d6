// Package write turns object graphs into ordered INSERT statements.
package write

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/key"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

// ErrInvalidRecord is returned when an object does not match its table.
var ErrInvalidRecord = errors.New("invalid record")

// Insert is one row to write, with values in storage form.
type Insert struct {
	Table   string
	Columns []string
	Values  []interface{}

	// IfAbsent marks rows of referenced tables, which may already exist.
	IfAbsent bool
}

// SQL renders the row as an INSERT statement.
func (i Insert) SQL(t *schema.Translator) string {
	return t.Insert(i.Table, i.Columns, i.Values, i.IfAbsent)
}

// Engine produces the inserts for an object and everything it references.
type Engine struct {
	alloc  core.SequenceAllocator
	logger *zap.SugaredLogger
}

// NewEngine creates a write engine. alloc supplies the counters of auto-id
// tables and may be nil when no such table is written.
func NewEngine(alloc core.SequenceAllocator, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		alloc:  alloc,
		logger: logger.Named("write"),
	}
}

// InsertStatements returns the rows to insert for obj in execution order:
// referenced rows first (once per traversal), then the object's row, then
// its relation rows. Auto-id counters are allocated here, once per object.
// The object graph is validated before any counter is allocated.
func (e *Engine) InsertStatements(ctx context.Context, obj *schema.Object, s *schema.Schema) ([]Insert, error) {
	if err := schema.NewSchemaValidator(s).ValidateObject(obj); err != nil {
		var mk *core.MissingKeyValueError
		var ue *core.UnknownEnumValueError
		if errors.As(err, &mk) || errors.As(err, &ue) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	tr := &traversal{
		ctx:     ctx,
		engine:  e,
		emitted: make(map[*schema.Object]key.ObjectKey),
		rows:    make(map[string]bool),
	}
	if _, err := tr.insert(obj, s, false); err != nil {
		return nil, err
	}
	e.logger.Debugw("rendered inserts", "table", s.Table, "rows", len(tr.out))
	return tr.out, nil
}

// Statements renders InsertStatements as SQL text.
func (e *Engine) Statements(ctx context.Context, obj *schema.Object, s *schema.Schema, t *schema.Translator) ([]string, error) {
	inserts, err := e.InsertStatements(ctx, obj, s)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(inserts))
	for i, ins := range inserts {
		out[i] = ins.SQL(t)
	}
	return out, nil
}

type pendingRelation struct {
	rel      *schema.RelationTable
	elements []schema.Element
}

type traversal struct {
	ctx     context.Context
	engine  *Engine
	out     []Insert
	emitted map[*schema.Object]key.ObjectKey
	rows    map[string]bool
}

func (tr *traversal) insert(obj *schema.Object, s *schema.Schema, referenced bool) (key.ObjectKey, error) {
	if k, ok := tr.emitted[obj]; ok {
		return k, nil
	}

	var relations []pendingRelation
	if err := tr.prepare(s.Layout, obj, &relations); err != nil {
		return key.ObjectKey{}, err
	}

	k, err := tr.writeKey(obj, s, referenced)
	if err != nil {
		return key.ObjectKey{}, err
	}
	tr.emitted[obj] = k

	rowID := s.Table + "|" + k.String()
	if tr.rows[rowID] {
		return k, nil
	}
	tr.rows[rowID] = true

	values, err := s.Flatten(obj, key.RefKey)
	if err != nil {
		return key.ObjectKey{}, err
	}
	if s.AutoID {
		values = append(values, k.Values...)
	}
	tr.out = append(tr.out, Insert{
		Table:    s.Table,
		Columns:  columnNames(s.Columns),
		Values:   values,
		IfAbsent: referenced,
	})

	for _, p := range relations {
		if err := tr.relationRows(p, k); err != nil {
			return key.ObjectKey{}, err
		}
	}
	return k, nil
}

// writeKey allocates a fresh key for the inserted object. A referenced
// auto-id object that already carries a generated key keeps it.
func (tr *traversal) writeKey(obj *schema.Object, s *schema.Schema, referenced bool) (key.ObjectKey, error) {
	if s.AutoID && referenced {
		if _, ok := obj.AutoID(); ok {
			return key.Of(obj, s)
		}
	}
	return key.ToWriteKey(tr.ctx, obj, s, tr.engine.alloc)
}

// prepare inserts the referenced objects reachable from obj's row and
// collects its relation values.
func (tr *traversal) prepare(l *schema.Layout, obj *schema.Object, relations *[]pendingRelation) error {
	for _, fl := range l.Fields {
		v := obj.ValueAt(fl.Index)
		if v == nil {
			continue
		}
		switch {
		case fl.Ref != nil:
			if _, err := tr.insert(v.(*schema.Object), fl.Ref, true); err != nil {
				return err
			}
		case fl.Nested != nil:
			if err := tr.prepare(fl.Nested, v.(*schema.Object), relations); err != nil {
				return err
			}
		case fl.Relation != nil:
			elements, err := schema.Elements(fl.Field, v)
			if err != nil {
				return err
			}
			for _, el := range elements {
				if err := tr.prepareElement(fl.Relation, el.Object()); err != nil {
					return err
				}
			}
			if len(elements) > 0 {
				*relations = append(*relations, pendingRelation{rel: fl.Relation, elements: elements})
			}
		}
	}
	return nil
}

func (tr *traversal) prepareElement(rel *schema.RelationTable, el *schema.Object) error {
	if rel.Element.Ref != nil {
		_, err := tr.insert(el, rel.Element.Ref, true)
		return err
	}
	var nested []pendingRelation
	if err := tr.prepare(rel.Element.Nested, el, &nested); err != nil {
		return err
	}
	if len(nested) > 0 {
		return &core.SchemaDefinitionError{Type: rel.Table, Reason: "relation elements cannot hold relations"}
	}
	return nil
}

func (tr *traversal) relationRows(p pendingRelation, owner key.ObjectKey) error {
	rel := p.rel
	columns := columnNames(rel.Columns)
	for _, el := range p.elements {
		values, err := rel.FlattenElement(el.Object(), key.RefKey)
		if err != nil {
			return err
		}
		row := make([]interface{}, 0, len(rel.Columns))
		row = append(row, owner.Values...)
		row = append(row, el.Index)
		row = append(row, values...)
		tr.out = append(tr.out, Insert{Table: rel.Table, Columns: columns, Values: row})
	}
	return nil
}

func columnNames(cols []schema.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
