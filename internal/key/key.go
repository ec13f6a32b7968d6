// Package key derives the primary key of record instances: the declared key
// fields, or a structural hash plus a per-table counter for record types that
// declare no key.
package key

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

var mapper = schema.NewTypeMapper()

// ObjectKey is an ordered tuple of key column values in storage form
// (int64, float64 or string).
type ObjectKey struct {
	Values []interface{}
}

// Len returns the number of key values.
func (k ObjectKey) Len() int { return len(k.Values) }

// String returns the normalized representation used as a cache key. Values
// of different kinds never render alike.
func (k ObjectKey) String() string {
	var b strings.Builder
	for i, v := range k.Values {
		if i > 0 {
			b.WriteByte(',')
		}
		switch c := v.(type) {
		case nil:
			b.WriteString("n")
		case int64:
			b.WriteString("i:")
			b.WriteString(strconv.FormatInt(c, 10))
		case float64:
			b.WriteString("f:")
			b.WriteString(strconv.FormatFloat(c, 'g', -1, 64))
		case string:
			b.WriteString("s:")
			b.WriteString(strconv.Quote(c))
		default:
			fmt.Fprintf(&b, "%T:%v", v, v)
		}
	}
	return b.String()
}

// FromValues builds the key of s from caller-supplied values, converting
// each to its key column kind. Auto-id tables take (hash, counter).
func FromValues(s *schema.Schema, values ...interface{}) (ObjectKey, error) {
	if len(values) != len(s.KeyColumns) {
		return ObjectKey{}, fmt.Errorf("table %s has %d key columns (%s), got %d values",
			s.Table, len(s.KeyColumns), strings.Join(s.KeyColumnNames(), ", "), len(values))
	}
	out := make([]interface{}, len(values))
	for i, ki := range s.KeyColumns {
		c := s.Columns[ki]
		if values[i] == nil {
			return ObjectKey{}, &core.MissingKeyValueError{Table: s.Table, Field: c.Name}
		}
		v, err := mapper.ToStorage(values[i], c.Type)
		if err != nil {
			return ObjectKey{}, fmt.Errorf("key column %s.%s: %w", s.Table, c.Name, err)
		}
		out[i] = v
	}
	return ObjectKey{Values: out}, nil
}

// Of returns the key of obj. Explicit keys are read from the object's key
// fields; auto-id objects must already carry their generated key.
func Of(obj *schema.Object, s *schema.Schema) (ObjectKey, error) {
	if obj == nil {
		return ObjectKey{}, fmt.Errorf("object cannot be nil")
	}
	if s.AutoID {
		id, ok := obj.AutoID()
		if !ok {
			return ObjectKey{}, &core.MissingKeyValueError{Table: s.Table, Field: schema.CounterColumn}
		}
		return ObjectKey{Values: []interface{}{int64(id.Hash), id.Counter}}, nil
	}

	values, err := s.Flatten(obj, RefKey)
	if err != nil {
		return ObjectKey{}, err
	}
	out := make([]interface{}, len(s.KeyColumns))
	for i, ki := range s.KeyColumns {
		out[i] = values[ki]
	}
	return ObjectKey{Values: out}, nil
}

// RefKey resolves the key of a by-reference child. It satisfies
// schema.RefKeyFunc.
func RefKey(ref *schema.Schema, child *schema.Object) ([]interface{}, error) {
	k, err := Of(child, ref)
	if err != nil {
		return nil, err
	}
	return k.Values, nil
}

// ToWriteKey computes the key of obj before its row is written. In auto-id
// mode it hashes the object, allocates the next counter of the table and
// fixes the pair on the object.
func ToWriteKey(ctx context.Context, obj *schema.Object, s *schema.Schema, alloc core.SequenceAllocator) (ObjectKey, error) {
	if !s.AutoID {
		return Of(obj, s)
	}
	if alloc == nil {
		return ObjectKey{}, fmt.Errorf("table %s uses generated keys but no sequence allocator is configured", s.Table)
	}

	values, err := s.Flatten(obj, RefKey)
	if err != nil {
		return ObjectKey{}, err
	}
	hash := Hash(values, s.Layout.Columns)
	counter, err := alloc.Next(ctx, s.Table)
	if err != nil {
		return ObjectKey{}, fmt.Errorf("failed to allocate counter for %s: %w", s.Table, err)
	}
	obj.SetAutoID(schema.AutoID{Hash: hash, Counter: counter})
	return ObjectKey{Values: []interface{}{int64(hash), counter}}, nil
}

// ToReadKey recovers the key of s from a result row. start is the 1-based
// index of the table's first column in the row.
func ToReadKey(row core.RowAccessor, s *schema.Schema, start int) (ObjectKey, error) {
	out := make([]interface{}, len(s.KeyColumns))
	for i, ki := range s.KeyColumns {
		c := s.Columns[ki]
		raw, err := row.GetObject(start + ki)
		if err != nil {
			return ObjectKey{}, fmt.Errorf("failed to read key column %s.%s: %w", s.Table, c.Name, err)
		}
		if raw == nil {
			return ObjectKey{}, &core.MissingKeyValueError{Table: s.Table, Field: c.Name}
		}
		v, err := Normalize(raw, c.Type)
		if err != nil {
			return ObjectKey{}, fmt.Errorf("key column %s.%s: %w", s.Table, c.Name, err)
		}
		out[i] = v
	}
	return ObjectKey{Values: out}, nil
}

// Normalize converts a raw driver value to the storage form of kind p.
func Normalize(raw interface{}, p schema.Primitive) (interface{}, error) {
	v, err := mapper.FromStorage(raw, p)
	if err != nil || v == nil {
		return v, err
	}
	return mapper.ToStorage(v, p)
}

// Hash computes the structural hash of a row: starting from 1, each column
// value in order folds in as acc*31 + hashOf(value), in wrapping 32-bit
// arithmetic.
func Hash(values []interface{}, columns []schema.Column) int32 {
	acc := int32(1)
	for i, v := range values {
		var p schema.Primitive
		if i < len(columns) {
			p = columns[i].Type
		}
		acc = acc*31 + hashOf(v, p)
	}
	return acc
}

func hashOf(v interface{}, p schema.Primitive) int32 {
	switch c := v.(type) {
	case nil:
		return 0
	case string:
		return HashString(c)
	case bool:
		return hashBool(c)
	case int32:
		return c
	case int64:
		switch p {
		case schema.PrimitiveBool:
			return hashBool(c != 0)
		case schema.PrimitiveInt:
			return int32(c)
		default:
			return hashLong(c)
		}
	case float64:
		return hashLong(int64(math.Float64bits(c)))
	default:
		return HashString(fmt.Sprint(v))
	}
}

// HashString is the polynomial string hash: h = 1, then h*31 + r per rune.
func HashString(s string) int32 {
	h := int32(1)
	for _, r := range s {
		h = h*31 + int32(r)
	}
	return h
}

func hashBool(b bool) int32 {
	if b {
		return 1231
	}
	return 1237
}

func hashLong(v int64) int32 {
	u := uint64(v)
	return int32(u ^ (u >> 32))
}
