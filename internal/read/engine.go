// Package read reconstructs object graphs from table rows.
package read

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/key"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

var mapper = schema.NewTypeMapper()

// Engine decodes rows into objects, fetching referenced rows and relation
// rows through the executor.
type Engine struct {
	exec       core.StatementExecutor
	translator *schema.Translator
	logger     *zap.SugaredLogger
}

// NewEngine creates a read engine. A nil translator renders SQLite text.
func NewEngine(exec core.StatementExecutor, translator *schema.Translator, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if translator == nil {
		translator = schema.NewTranslator(nil)
	}
	return &Engine{
		exec:       exec,
		translator: translator,
		logger:     logger.Named("read"),
	}
}

// ReadByKey reads the object of s with key k in a new traversal.
// It returns core.ErrNotFound when no row matches.
func (e *Engine) ReadByKey(ctx context.Context, s *schema.Schema, k key.ObjectKey) (*schema.Object, error) {
	return e.resolve(ctx, s, k, NewCache())
}

// ReadWhere reads every object of s matching all conditions, sharing one
// traversal cache across the result.
func (e *Engine) ReadWhere(ctx context.Context, s *schema.Schema, conds []schema.Condition) ([]*schema.Object, error) {
	rs, err := e.query(ctx, e.translator.Select(s.Table, conds), len(s.Columns))
	if err != nil {
		return nil, err
	}

	cache := NewCache()
	out := make([]*schema.Object, 0, rs.Len())
	for rs.Next() {
		obj, _, err := e.FromRow(ctx, s, rs, 1, cache)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Conditions converts a dotted field path and value into column conditions
// of s.
func Conditions(s *schema.Schema, path string, value interface{}) ([]schema.Condition, error) {
	return schema.Where(s, path, value, key.RefKey)
}

// FromRow decodes the record of s from the current row, starting at the
// 1-based column start. It returns the object and the index of the first
// column after the record. A key already in the cache returns the cached
// instance without decoding the row again.
func (e *Engine) FromRow(ctx context.Context, s *schema.Schema, row core.RowAccessor, start int, cache *Cache) (*schema.Object, int, error) {
	next := start + len(s.Columns)

	k, err := key.ToReadKey(row, s, start)
	if err != nil {
		return nil, 0, err
	}
	if obj, ok := cache.Get(s.Table, k); ok {
		e.logger.Debugw("cache hit", "session", cache.Session(), "table", s.Table, "key", k.String())
		return obj, next, nil
	}

	obj := schema.NewObject(s.Type)
	d := &decoder{engine: e, ctx: ctx, row: row, cache: cache, table: s.Table}
	col, err := d.layout(s.Layout, start, obj)
	if err != nil {
		return nil, 0, err
	}
	if s.AutoID {
		obj.SetAutoID(schema.AutoID{Hash: int32(k.Values[0].(int64)), Counter: k.Values[1].(int64)})
		col += 2
	}
	if col != next {
		return nil, 0, fmt.Errorf("decoded %d columns of %s, want %d", col-start, s.Table, len(s.Columns))
	}
	cache.Put(s.Table, k, obj)

	if err := d.resolveRefs(); err != nil {
		return nil, 0, err
	}
	for _, p := range d.relations {
		if err := e.loadRelation(ctx, p, k, cache); err != nil {
			return nil, 0, err
		}
	}
	return obj, next, nil
}

func (e *Engine) query(ctx context.Context, sql string, width int) (*resultSet, error) {
	e.logger.Debugw("executing query", "sql", sql)
	rows, err := e.exec.ExecuteQuery(ctx, sql)
	if err != nil {
		return nil, wrapExec(sql, err)
	}
	rs, err := collect(rows, width)
	if err != nil {
		return nil, wrapExec(sql, err)
	}
	return rs, nil
}

func wrapExec(sql string, err error) error {
	var se *core.StatementExecutionError
	if errors.As(err, &se) {
		return err
	}
	return &core.StatementExecutionError{SQL: sql, Err: err}
}

// resolve returns the object of s with key k, from the cache or by
// fetching its row.
func (e *Engine) resolve(ctx context.Context, s *schema.Schema, k key.ObjectKey, cache *Cache) (*schema.Object, error) {
	if obj, ok := cache.Get(s.Table, k); ok {
		e.logger.Debugw("cache hit", "session", cache.Session(), "table", s.Table, "key", k.String())
		return obj, nil
	}

	sql, err := e.translator.SelectByKey(s, k.Values)
	if err != nil {
		return nil, err
	}
	rs, err := e.query(ctx, sql, len(s.Columns))
	if err != nil {
		return nil, err
	}
	if !rs.Next() {
		return nil, fmt.Errorf("%s %s: %w", s.Table, k.String(), core.ErrNotFound)
	}
	obj, _, err := e.FromRow(ctx, s, rs, 1, cache)
	return obj, err
}

type element struct {
	index interface{}
	obj   *schema.Object
}

// loadRelation reads the rows of a relation table for one owner and sets
// the assembled list or map on the holder.
func (e *Engine) loadRelation(ctx context.Context, p pendingRelation, owner key.ObjectKey, cache *Cache) error {
	rel := p.rel
	sql, err := e.translator.SelectElements(rel, owner.Values)
	if err != nil {
		return err
	}
	rs, err := e.query(ctx, sql, len(rel.Columns))
	if err != nil {
		return err
	}

	d := &decoder{engine: e, ctx: ctx, row: rs, cache: cache, table: rel.Table}
	indexCol := len(rel.OwnerColumns) + 1
	elemCol := rel.Element.Start + 1
	elements := make([]*element, 0, rs.Len())
	for rs.Next() {
		raw, err := rs.GetObject(indexCol)
		if err != nil {
			return err
		}
		index, err := key.Normalize(raw, rel.IndexColumn.Type)
		if err != nil || index == nil {
			return fmt.Errorf("relation %s: invalid %s %v", rel.Table, rel.IndexColumn.Name, raw)
		}

		el := &element{index: index}
		elements = append(elements, el)
		if rel.Element.Ref != nil {
			k, null, err := d.refKey(rel.Element.Ref, elemCol, rel.Element.Width)
			if err != nil {
				return err
			}
			if null {
				return fmt.Errorf("relation %s: element reference is NULL", rel.Table)
			}
			d.refs = append(d.refs, pendingRef{ref: rel.Element.Ref, key: k, assign: func(o *schema.Object) error {
				el.obj = o
				return nil
			}})
			continue
		}
		el.obj = schema.NewObject(rel.Element.Field.Record)
		if _, err := d.layout(rel.Element.Nested, elemCol, el.obj); err != nil {
			return err
		}
	}
	if err := d.resolveRefs(); err != nil {
		return err
	}

	switch rel.Kind {
	case schema.RelationList:
		sort.SliceStable(elements, func(i, j int) bool {
			return elements[i].index.(int64) < elements[j].index.(int64)
		})
		list := make([]*schema.Object, len(elements))
		for i, el := range elements {
			list[i] = el.obj
		}
		return p.holder.Set(p.field, list)
	case schema.RelationMap:
		m := make(map[string]*schema.Object, len(elements))
		for _, el := range elements {
			m[el.index.(string)] = el.obj
		}
		return p.holder.Set(p.field, m)
	default:
		return fmt.Errorf("relation %s: unsupported relation kind %d", rel.Table, rel.Kind)
	}
}
