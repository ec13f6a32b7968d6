package write

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/schema"
	"github.com/rzpsarthak13/relmap/internal/testutil"
)

type fixture struct {
	builder *schema.Builder
	engine  *Engine
	alloc   *testutil.CountingAllocator
	tr      *schema.Translator
}

func newFixture(t *testing.T, registered ...*schema.RecordType) *fixture {
	t.Helper()
	b := schema.NewBuilder()
	for _, rt := range registered {
		if err := b.Register(rt); err != nil {
			t.Fatalf("Register(%s) failed: %v", rt.Name(), err)
		}
	}
	alloc := testutil.NewCountingAllocator()
	return &fixture{
		builder: b,
		engine:  NewEngine(alloc, nil),
		alloc:   alloc,
		tr:      schema.NewTranslator(schema.SQLite),
	}
}

func (f *fixture) statements(t *testing.T, obj *schema.Object) []string {
	t.Helper()
	s, err := f.builder.Build(obj.Type())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	stmts, err := f.engine.Statements(context.Background(), obj, s, f.tr)
	if err != nil {
		t.Fatalf("Statements failed: %v", err)
	}
	return stmts
}

func expectStatements(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d statements, got %d:\n%s", len(want), len(got), strings.Join(got, "\n"))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statement %d:\nexpected %s\ngot      %s", i, want[i], got[i])
		}
	}
}

func TestInsertExplicitKey(t *testing.T) {
	rt := schema.NewRecordType("T", schema.Int("x").Key())
	f := newFixture(t)

	got := f.statements(t, schema.NewObject(rt).MustSet("x", 5))
	expectStatements(t, got, []string{"INSERT INTO T (x) VALUES (5);"})
}

func TestInsertReferencedFirst(t *testing.T) {
	simple := schema.NewRecordType("SimpleObject", schema.Int("y").Key())
	owner := schema.NewRecordType("Owner", schema.Int("x").Key(), schema.Nested("s", simple))
	f := newFixture(t, simple)

	obj := schema.NewObject(owner).
		MustSet("x", 1).
		MustSet("s", schema.NewObject(simple).MustSet("y", 6))
	expectStatements(t, f.statements(t, obj), []string{
		"INSERT OR IGNORE INTO SimpleObject (y) VALUES (6);",
		"INSERT INTO Owner (x, s_y) VALUES (1, 6);",
	})
}

func TestInsertSharedReferenceOnce(t *testing.T) {
	simple := schema.NewRecordType("SimpleObject", schema.Int("y").Key())
	pair := schema.NewRecordType("Pair",
		schema.Int("x").Key(),
		schema.Nested("s", simple),
		schema.Nested("t", simple).Optional(),
	)
	f := newFixture(t, simple)

	tests := []struct {
		name string
		s, u *schema.Object
	}{
		{"same instance", nil, nil},
		{"equal keys", schema.NewObject(simple).MustSet("y", 6), schema.NewObject(simple).MustSet("y", 6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, u := tt.s, tt.u
			if s == nil {
				s = schema.NewObject(simple).MustSet("y", 6)
				u = s
			}
			obj := schema.NewObject(pair).MustSet("x", 1).MustSet("s", s).MustSet("t", u)
			expectStatements(t, f.statements(t, obj), []string{
				"INSERT OR IGNORE INTO SimpleObject (y) VALUES (6);",
				"INSERT INTO Pair (x, s_y, t_y) VALUES (1, 6, 6);",
			})
		})
	}

	absent := schema.NewObject(pair).MustSet("x", 2).MustSet("s", schema.NewObject(simple).MustSet("y", 7))
	expectStatements(t, f.statements(t, absent), []string{
		"INSERT OR IGNORE INTO SimpleObject (y) VALUES (7);",
		"INSERT INTO Pair (x, s_y, t_y) VALUES (2, 7, NULL);",
	})
}

func TestInsertAutoIDCounters(t *testing.T) {
	point := schema.NewRecordType("Point", schema.String("x"), schema.Int("y"))
	box := schema.NewRecordType("Box", schema.Nested("lower", point))
	f := newFixture(t)
	s, err := f.builder.Build(box)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	mk := func() *schema.Object {
		return schema.NewObject(box).MustSet("lower", schema.NewObject(point).MustSet("x", "5").MustSet("y", 6))
	}
	ctx := context.Background()
	first, err := f.engine.InsertStatements(ctx, mk(), s)
	if err != nil {
		t.Fatalf("InsertStatements failed: %v", err)
	}
	second, err := f.engine.InsertStatements(ctx, mk(), s)
	if err != nil {
		t.Fatalf("InsertStatements failed: %v", err)
	}

	v1, v2 := first[0].Values, second[0].Values
	if len(v1) != 4 {
		t.Fatalf("expected lower_x, lower_y, _hash, _counter; got %v", v1)
	}
	if v1[2] != v2[2] {
		t.Fatalf("structurally identical objects must share a hash: %v vs %v", v1[2], v2[2])
	}
	if v1[3] != int64(1) || v2[3] != int64(2) {
		t.Fatalf("expected counters 1 and 2, got %v and %v", v1[3], v2[3])
	}
	if got := strings.Join(first[0].Columns, ","); got != "lower_x,lower_y,_hash,_counter" {
		t.Fatalf("unexpected columns %s", got)
	}
}

func TestInsertRelations(t *testing.T) {
	simple := schema.NewRecordType("SimpleObject", schema.Int("y").Key())
	point := schema.NewRecordType("Point", schema.String("x"), schema.Int("y"))
	shape := schema.NewRecordType("Shape",
		schema.String("name").Key(),
		schema.List("vertices", point),
		schema.Map("tags", simple),
	)
	f := newFixture(t, simple)

	six := schema.NewObject(simple).MustSet("y", 6)
	obj := schema.NewObject(shape).
		MustSet("name", "tri").
		MustSet("vertices", []*schema.Object{
			schema.NewObject(point).MustSet("x", "0").MustSet("y", 0),
			schema.NewObject(point).MustSet("x", "4").MustSet("y", 0),
		}).
		MustSet("tags", map[string]*schema.Object{"b": six, "a": six})

	expectStatements(t, f.statements(t, obj), []string{
		`INSERT OR IGNORE INTO SimpleObject (y) VALUES (6);`,
		`INSERT INTO Shape (name) VALUES ("tri");`,
		`INSERT INTO Shape_vertices (owner_name, position, value_x, value_y) VALUES ("tri", 0, "0", 0);`,
		`INSERT INTO Shape_vertices (owner_name, position, value_x, value_y) VALUES ("tri", 1, "4", 0);`,
		`INSERT INTO Shape_tags (owner_name, map_key, value_y) VALUES ("tri", "a", 6);`,
		`INSERT INTO Shape_tags (owner_name, map_key, value_y) VALUES ("tri", "b", 6);`,
	})

	empty := schema.NewObject(shape).MustSet("name", "none").MustSet("vertices", []*schema.Object{})
	expectStatements(t, f.statements(t, empty), []string{`INSERT INTO Shape (name) VALUES ("none");`})
}

func TestInsertReferencedAutoIDKeepsKey(t *testing.T) {
	event := schema.NewRecordType("Event", schema.String("kind"))
	log := schema.NewRecordType("Log", schema.String("name").Key(), schema.Nested("last", event))
	f := newFixture(t, event)
	s, err := f.builder.Build(log)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ev := schema.NewObject(event).MustSet("kind", "deploy")
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		obj := schema.NewObject(log).MustSet("name", name).MustSet("last", ev)
		inserts, err := f.engine.InsertStatements(ctx, obj, s)
		if err != nil {
			t.Fatalf("InsertStatements failed: %v", err)
		}
		if len(inserts) != 2 || !inserts[0].IfAbsent {
			t.Fatalf("expected an insert-if-absent event row then the log row, got %+v", inserts)
		}
	}
	id, _ := ev.AutoID()
	if id.Counter != 1 {
		t.Fatalf("a referenced event must keep its generated key, got counter %d", id.Counter)
	}
}

func TestInsertValidationBeforeAllocation(t *testing.T) {
	color := schema.NewEnum("Color", "RED")
	rt := schema.NewRecordType("Car", schema.String("kind"), schema.Enum("color", color))
	keyed := schema.NewRecordType("Keyed", schema.Int("id").Key(), schema.String("name"))
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.builder.Build(rt)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	_, err = f.engine.InsertStatements(ctx, schema.NewObject(rt).MustSet("kind", "van"), s)
	if !errors.Is(err, ErrInvalidRecord) || !errors.Is(err, core.ErrMissingValue) {
		t.Fatalf("expected ErrInvalidRecord wrapping ErrMissingValue, got %v", err)
	}
	if next, _ := f.alloc.Next(ctx, "Car"); next != 1 {
		t.Fatalf("no counter may be allocated for an invalid object, next is %d", next)
	}

	ks, err := f.builder.Build(keyed)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	var mke *core.MissingKeyValueError
	if _, err := f.engine.InsertStatements(ctx, schema.NewObject(keyed).MustSet("name", "n"), ks); !errors.As(err, &mke) {
		t.Fatalf("expected MissingKeyValueError, got %v", err)
	}
}
