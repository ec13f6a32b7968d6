package schema

import (
	"errors"
	"math"
	"testing"

	"github.com/rzpsarthak13/relmap/internal/core"
)

func whereClause(t *testing.T, s *Schema, refKey RefKeyFunc, pairs ...interface{}) string {
	t.Helper()
	var conds []Condition
	for i := 0; i < len(pairs); i += 2 {
		c, err := Where(s, pairs[i].(string), pairs[i+1], refKey)
		if err != nil {
			t.Fatalf("Where(%v) failed: %v", pairs[i], err)
		}
		conds = append(conds, c...)
	}
	return NewTranslator(SQLite).WhereClause(conds)
}

func TestWhereInlineNested(t *testing.T) {
	point := NewRecordType("Point", String("x"), Int("y"))
	s := mustBuild(t, NewBuilder(), NewRecordType("Box", Nested("lower", point)))

	if got := whereClause(t, s, nil, "lower.x", 5); got != `lower_x="5"` {
		t.Fatalf(`expected lower_x="5", got %s`, got)
	}
	if got := whereClause(t, s, nil, "lower.x", 5, "lower.y", 6); got != `lower_x="5" AND lower_y=6` {
		t.Fatalf(`expected lower_x="5" AND lower_y=6, got %s`, got)
	}

	whole := NewObject(point).MustSet("x", "1").MustSet("y", 2)
	if got := whereClause(t, s, nil, "lower", whole); got != `lower_x="1" AND lower_y=2` {
		t.Fatalf("unexpected clause for a whole nested value: %s", got)
	}
	if got := whereClause(t, s, nil, "lower.x", nil); got != "lower_x IS NULL" {
		t.Fatalf("unexpected clause for nil: %s", got)
	}
}

func TestWhereReference(t *testing.T) {
	simple := NewRecordType("SimpleObject", Int("y").Key(), String("label"))
	b := NewBuilder()
	if err := b.Register(simple); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	s := mustBuild(t, b, NewRecordType("Owner", Int("x").Key(), Nested("s", simple)))

	if got := whereClause(t, s, nil, "s.y", "6"); got != "s_y=6" {
		t.Fatalf("expected s_y=6, got %s", got)
	}

	refKey := func(ref *Schema, child *Object) ([]interface{}, error) {
		return []interface{}{int64(child.Get("y").(int32))}, nil
	}
	child := NewObject(simple).MustSet("y", 9).MustSet("label", "nine")
	if got := whereClause(t, s, refKey, "s", child); got != "s_y=9" {
		t.Fatalf("expected s_y=9, got %s", got)
	}

	if _, err := Where(s, "s.label", "nine", nil); err == nil {
		t.Fatalf("expected an error when querying a non-key column of a referenced table")
	}
}

func TestWhereErrors(t *testing.T) {
	color := NewEnum("Color", "RED")
	point := NewRecordType("Point", Int("x"))
	s := mustBuild(t, NewBuilder(), NewRecordType("Shape",
		String("name").Key(),
		Enum("color", color),
		Double("area"),
		List("vertices", point),
	))

	tests := []struct {
		name  string
		path  string
		value interface{}
	}{
		{"empty path", "", 1},
		{"unknown field", "missing", 1},
		{"path through primitive", "name.first", "x"},
		{"relation", "vertices", nil},
		{"not a number", "area", "wide"},
		{"nan", "area", math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Where(s, tt.path, tt.value, nil); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	_, err := Where(s, "color", "PURPLE", nil)
	var uev *core.UnknownEnumValueError
	if !errors.As(err, &uev) {
		t.Fatalf("expected UnknownEnumValueError, got %v", err)
	}
}
