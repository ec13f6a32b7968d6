package read

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/key"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

// pendingRef is a by-reference value whose row is fetched after the current
// row has been decoded.
type pendingRef struct {
	ref    *schema.Schema
	key    key.ObjectKey
	assign func(*schema.Object) error
}

// pendingRelation is a relation field whose rows are loaded once the owner
// key is known. holder is the object declaring the field, which is the
// owner itself or one of its inline nested records.
type pendingRelation struct {
	rel    *schema.RelationTable
	holder *schema.Object
	field  string
}

// decoder consumes the columns of one row left to right.
type decoder struct {
	engine    *Engine
	ctx       context.Context
	row       core.RowAccessor
	cache     *Cache
	table     string
	refs      []pendingRef
	relations []pendingRelation
}

// layout decodes the fields of l into obj starting at col and returns the
// next column index.
func (d *decoder) layout(l *schema.Layout, col int, obj *schema.Object) (int, error) {
	for _, fl := range l.Fields {
		var err error
		col, err = d.field(fl, col, obj)
		if err != nil {
			return 0, err
		}
	}
	return col, nil
}

func (d *decoder) field(fl *schema.FieldLayout, col int, obj *schema.Object) (int, error) {
	f := fl.Field
	switch f.Kind {
	case schema.KindPrimitive, schema.KindEnum:
		raw, err := d.row.GetObject(col)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s.%s: %w", d.table, f.Name, err)
		}
		if raw != nil {
			p := f.Primitive
			if f.Kind == schema.KindEnum {
				p = schema.PrimitiveString
			}
			v, err := mapper.FromStorage(raw, p)
			if err != nil {
				return 0, fmt.Errorf("%s.%s: %w", d.table, f.Name, err)
			}
			if err := obj.Set(f.Name, v); err != nil {
				return 0, err
			}
		}
		return col + 1, nil

	case schema.KindNested:
		next := col + fl.Width
		if fl.Ref != nil {
			k, null, err := d.refKey(fl.Ref, col, fl.Width)
			if err != nil || null {
				return next, err
			}
			name := f.Name
			d.refs = append(d.refs, pendingRef{ref: fl.Ref, key: k, assign: func(child *schema.Object) error {
				return obj.Set(name, child)
			}})
			return next, nil
		}
		if f.IsOptional() {
			null, err := d.allNull(col, fl.Width)
			if err != nil || null {
				return next, err
			}
		}
		child := schema.NewObject(f.Record)
		if _, err := d.layout(fl.Nested, col, child); err != nil {
			return 0, err
		}
		return next, obj.Set(f.Name, child)

	case schema.KindRelation:
		d.relations = append(d.relations, pendingRelation{rel: fl.Relation, holder: obj, field: f.Name})
		return col, nil

	default:
		return 0, fmt.Errorf("%s.%s: unsupported field kind %v", d.table, f.Name, f.Kind)
	}
}

// refKey reads the key of a referenced row stored in width columns at col.
// null reports that every column is NULL.
func (d *decoder) refKey(ref *schema.Schema, col, width int) (key.ObjectKey, bool, error) {
	values := make([]interface{}, width)
	nulls := 0
	for i := range values {
		raw, err := d.row.GetObject(col + i)
		if err != nil {
			return key.ObjectKey{}, false, fmt.Errorf("failed to read reference to %s: %w", ref.Table, err)
		}
		if raw == nil {
			nulls++
			continue
		}
		v, err := key.Normalize(raw, ref.Columns[ref.KeyColumns[i]].Type)
		if err != nil {
			return key.ObjectKey{}, false, fmt.Errorf("reference to %s: %w", ref.Table, err)
		}
		values[i] = v
	}
	switch nulls {
	case 0:
		return key.ObjectKey{Values: values}, false, nil
	case width:
		return key.ObjectKey{}, true, nil
	default:
		return key.ObjectKey{}, false, fmt.Errorf("reference to %s in %s is partially NULL", ref.Table, d.table)
	}
}

func (d *decoder) allNull(col, width int) (bool, error) {
	for i := 0; i < width; i++ {
		raw, err := d.row.GetObject(col + i)
		if err != nil {
			return false, err
		}
		if raw != nil {
			return false, nil
		}
	}
	return true, nil
}

// resolveRefs fetches the deferred references, consulting the cache first.
func (d *decoder) resolveRefs() error {
	refs := d.refs
	d.refs = nil
	for _, p := range refs {
		child, err := d.engine.resolve(d.ctx, p.ref, p.key, d.cache)
		if err != nil {
			return err
		}
		if err := p.assign(child); err != nil {
			return err
		}
	}
	return nil
}
