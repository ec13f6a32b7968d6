package read

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/key"
	"github.com/rzpsarthak13/relmap/internal/schema"
	"github.com/rzpsarthak13/relmap/internal/testutil"
	"github.com/rzpsarthak13/relmap/internal/write"
)

var (
	color  = schema.NewEnum("Color", "RED", "GREEN", "BLUE")
	simple = schema.NewRecordType("SimpleObject", schema.Int("y").Key())
	point  = schema.NewRecordType("Point", schema.String("x"), schema.Int("y"))
	pair   = schema.NewRecordType("Pair",
		schema.Int("x").Key(),
		schema.Nested("s", simple),
		schema.Nested("t", simple).Optional(),
	)
	shape = schema.NewRecordType("Shape",
		schema.String("name").Key(),
		schema.Enum("color", color),
		schema.Nested("lower", point),
		schema.Nested("upper", point).Optional(),
		schema.List("vertices", point),
		schema.Map("tags", simple),
	)
	event = schema.NewRecordType("Event", schema.String("kind"), schema.Double("weight"))
)

// harness writes objects through the write engine and serves the rows back
// to the read engine as the query results a database would return.
type harness struct {
	t       *testing.T
	builder *schema.Builder
	exec    *testutil.Executor
	tr      *schema.Translator
	writer  *write.Engine
	reader  *Engine
	tables  map[string]*schema.Schema
	rels    map[string]*schema.RelationTable
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := schema.NewBuilder()
	if err := b.Register(simple); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	exec := testutil.NewExecutor()
	tr := schema.NewTranslator(schema.SQLite)
	return &harness{
		t:       t,
		builder: b,
		exec:    exec,
		tr:      tr,
		writer:  write.NewEngine(testutil.NewCountingAllocator(), nil),
		reader:  NewEngine(exec, tr, nil),
		tables:  make(map[string]*schema.Schema),
		rels:    make(map[string]*schema.RelationTable),
	}
}

func (h *harness) schema(rt *schema.RecordType) *schema.Schema {
	h.t.Helper()
	s, err := h.builder.Build(rt)
	if err != nil {
		h.t.Fatalf("Build(%s) failed: %v", rt.Name(), err)
	}
	h.index(s)
	return s
}

func (h *harness) index(s *schema.Schema) {
	h.tables[s.Table] = s
	for _, d := range s.Dependencies {
		h.index(d)
	}
	for _, r := range s.Relations {
		h.rels[r.Table] = r
	}
}

func (h *harness) insert(obj *schema.Object) {
	h.t.Helper()
	s := h.schema(obj.Type())
	inserts, err := h.writer.InsertStatements(context.Background(), obj, s)
	if err != nil {
		h.t.Fatalf("InsertStatements failed: %v", err)
	}
	for _, ins := range inserts {
		h.store(ins.Table, ins.Values)
	}
}

func (h *harness) store(table string, values []interface{}) {
	h.t.Helper()
	if s, ok := h.tables[table]; ok {
		k := make([]interface{}, len(s.KeyColumns))
		for i, ki := range s.KeyColumns {
			k[i] = values[ki]
		}
		q, err := h.tr.SelectByKey(s, k)
		if err != nil {
			h.t.Fatalf("SelectByKey failed: %v", err)
		}
		h.exec.AddRows(q, values)
		return
	}
	r, ok := h.rels[table]
	if !ok {
		h.t.Fatalf("unknown table %s", table)
	}
	q, err := h.tr.SelectElements(r, values[:len(r.OwnerColumns)])
	if err != nil {
		h.t.Fatalf("SelectElements failed: %v", err)
	}
	h.exec.AddRows(q, values)
}

func (h *harness) read(rt *schema.RecordType, values ...interface{}) (*schema.Object, error) {
	s := h.schema(rt)
	k, err := key.FromValues(s, values...)
	if err != nil {
		h.t.Fatalf("FromValues failed: %v", err)
	}
	return h.reader.ReadByKey(context.Background(), s, k)
}

func (h *harness) queriesOf(table string) int {
	n := 0
	for _, q := range h.exec.Queries() {
		if strings.HasPrefix(q, "SELECT * FROM "+table+" ") {
			n++
		}
	}
	return n
}

func TestReadExplicitKey(t *testing.T) {
	h := newHarness(t)
	rt := schema.NewRecordType("T", schema.Int("x").Key())
	h.insert(schema.NewObject(rt).MustSet("x", 5))

	got, err := h.read(rt, 5)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Get("x") != int32(5) {
		t.Fatalf("expected x=5, got %#v", got.Get("x"))
	}
	if q := h.exec.Queries(); len(q) != 1 || q[0] != "SELECT * FROM T WHERE x=5;" {
		t.Fatalf("unexpected queries %v", q)
	}
}

func TestReadNotFound(t *testing.T) {
	h := newHarness(t)
	rt := schema.NewRecordType("T", schema.Int("x").Key())
	h.schema(rt)

	if _, err := h.read(rt, 1); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadSharedReferenceOnce(t *testing.T) {
	h := newHarness(t)
	six := schema.NewObject(simple).MustSet("y", 6)
	h.insert(schema.NewObject(pair).MustSet("x", 1).MustSet("s", six).MustSet("t", six))

	got, err := h.read(pair, 1)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	s, ok := got.Get("s").(*schema.Object)
	if !ok || s.Get("y") != int32(6) {
		t.Fatalf("expected s.y=6, got %v", got.Get("s"))
	}
	if got.Get("t") != got.Get("s") {
		t.Fatalf("both fields must hold the same instance")
	}
	if n := h.queriesOf("SimpleObject"); n != 1 {
		t.Fatalf("expected SimpleObject to be fetched once, got %d queries", n)
	}

	// A second read is a new traversal with a fresh cache.
	again, err := h.read(pair, 1)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if again.Get("s") == got.Get("s") {
		t.Fatalf("separate reads must not share instances")
	}
}

func TestReadRoundTrip(t *testing.T) {
	h := newHarness(t)
	six := schema.NewObject(simple).MustSet("y", 6)
	vertex := func(x string, y int) *schema.Object {
		return schema.NewObject(point).MustSet("x", x).MustSet("y", y)
	}
	obj := schema.NewObject(shape).
		MustSet("name", "tri").
		MustSet("color", "GREEN").
		MustSet("lower", vertex("5", 6)).
		MustSet("vertices", []*schema.Object{vertex("0", 0), vertex("4", 0), vertex("0", 3)}).
		MustSet("tags", map[string]*schema.Object{"a": six, "b": six})
	h.insert(obj)

	got, err := h.read(shape, "tri")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !schema.Equal(got, obj) {
		t.Fatalf("read object differs from the inserted one")
	}
	if got.Get("upper") != nil {
		t.Fatalf("an all-NULL optional nested field must read back as nil, got %v", got.Get("upper"))
	}
	tags := got.Get("tags").(map[string]*schema.Object)
	if tags["a"] != tags["b"] {
		t.Fatalf("map entries referencing the same key must share an instance")
	}
	vertices := got.Get("vertices").([]*schema.Object)
	if vertices[1].Get("x") != "4" {
		t.Fatalf("list order must be preserved, got %v", vertices[1].Get("x"))
	}
}

func TestReadEmptyRelation(t *testing.T) {
	h := newHarness(t)
	obj := schema.NewObject(shape).
		MustSet("name", "dot").
		MustSet("color", "RED").
		MustSet("lower", schema.NewObject(point).MustSet("x", "0").MustSet("y", 0))
	h.insert(obj)

	got, err := h.read(shape, "dot")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	list, ok := got.Get("vertices").([]*schema.Object)
	if !ok || len(list) != 0 {
		t.Fatalf("expected an empty list, got %#v", got.Get("vertices"))
	}
	m, ok := got.Get("tags").(map[string]*schema.Object)
	if !ok || len(m) != 0 {
		t.Fatalf("expected an empty map, got %#v", got.Get("tags"))
	}
}

func TestReadAutoID(t *testing.T) {
	h := newHarness(t)
	obj := schema.NewObject(event).MustSet("kind", "deploy").MustSet("weight", 1.5)
	h.insert(obj)
	id, ok := obj.AutoID()
	if !ok {
		t.Fatalf("expected a generated key after insert")
	}

	got, err := h.read(event, id.Hash, id.Counter)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !schema.Equal(got, obj) {
		t.Fatalf("read object differs from the inserted one")
	}
	if gotID, _ := got.AutoID(); gotID != id {
		t.Fatalf("expected generated key %+v, got %+v", id, gotID)
	}
}

func TestReadUnknownEnum(t *testing.T) {
	h := newHarness(t)
	s := h.schema(shape)
	h.store(s.Table, []interface{}{"odd", "PURPLE", "0", int64(0), nil, nil})

	_, err := h.read(shape, "odd")
	var uev *core.UnknownEnumValueError
	if !errors.As(err, &uev) || uev.Value != "PURPLE" {
		t.Fatalf("expected UnknownEnumValueError for PURPLE, got %v", err)
	}
}

func TestReadWhere(t *testing.T) {
	h := newHarness(t)
	s := h.schema(shape)
	six := schema.NewObject(simple).MustSet("y", 6)
	for _, name := range []string{"a", "b"} {
		h.insert(schema.NewObject(shape).
			MustSet("name", name).
			MustSet("color", "BLUE").
			MustSet("lower", schema.NewObject(point).MustSet("x", "5").MustSet("y", 6)).
			MustSet("tags", map[string]*schema.Object{"k": six}))
	}

	conds, err := Conditions(s, "lower.x", 5)
	if err != nil {
		t.Fatalf("Conditions failed: %v", err)
	}
	q := h.tr.Select(s.Table, conds)
	if q != `SELECT * FROM Shape WHERE lower_x='5';` {
		t.Fatalf("unexpected query %s", q)
	}
	h.exec.AddRows(q,
		[]interface{}{"a", "BLUE", "5", int64(6), nil, nil},
		[]interface{}{"b", "BLUE", "5", int64(6), nil, nil},
	)

	got, err := h.reader.ReadWhere(context.Background(), s, conds)
	if err != nil {
		t.Fatalf("ReadWhere failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(got))
	}
	a := got[0].Get("tags").(map[string]*schema.Object)["k"]
	b := got[1].Get("tags").(map[string]*schema.Object)["k"]
	if a == nil || a != b {
		t.Fatalf("results of one query share a traversal cache")
	}
}

func TestReadExecutionError(t *testing.T) {
	h := newHarness(t)
	rt := schema.NewRecordType("T", schema.Int("x").Key())
	h.schema(rt)
	boom := errors.New("connection reset")
	h.exec.FailQuery = func(string) error { return boom }

	_, err := h.read(rt, 1)
	var see *core.StatementExecutionError
	if !errors.As(err, &see) || !errors.Is(err, boom) {
		t.Fatalf("expected StatementExecutionError wrapping the cause, got %v", err)
	}
	if see.SQL != "SELECT * FROM T WHERE x=1;" {
		t.Fatalf("unexpected SQL in error: %s", see.SQL)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	other := NewCache()
	if c.Session() == other.Session() {
		t.Fatalf("caches must have distinct sessions")
	}

	obj := schema.NewObject(simple).MustSet("y", 1)
	k := key.ObjectKey{Values: []interface{}{int64(1)}}
	c.Put("SimpleObject", k, obj)

	if got, ok := c.Get("SimpleObject", k); !ok || got != obj {
		t.Fatalf("expected cached object")
	}
	if _, ok := c.Get("Other", k); ok {
		t.Fatalf("keys of different tables must not collide")
	}
	if _, ok := c.Get("SimpleObject", key.ObjectKey{Values: []interface{}{"1"}}); ok {
		t.Fatalf("keys of different kinds must not collide")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
}

func TestReadOptionalNestedPresence(t *testing.T) {
	h := newHarness(t)

	note := schema.NewRecordType("Note", schema.String("text").Optional())
	doc := schema.NewRecordType("Doc", schema.Int("id").Key(), schema.Nested("note", note).Optional())
	var sde *core.SchemaDefinitionError
	if _, err := h.builder.Build(doc); !errors.As(err, &sde) {
		t.Fatalf("an optional record without a required column must be rejected, got %v", err)
	}

	memo := schema.NewRecordType("Memo", schema.Int("rev"), schema.String("text").Optional())
	page := schema.NewRecordType("Page", schema.Int("id").Key(), schema.Nested("memo", memo).Optional())

	tests := []struct {
		name string
		memo *schema.Object
	}{
		{"present with nil leaves", schema.NewObject(memo).MustSet("rev", 0)},
		{"present with text", schema.NewObject(memo).MustSet("rev", 2).MustSet("text", "hi")},
		{"absent", nil},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := schema.NewObject(page).MustSet("id", i)
			if tt.memo != nil {
				obj.MustSet("memo", tt.memo)
			}
			h.insert(obj)

			got, err := h.read(page, i)
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if (got.Get("memo") != nil) != (tt.memo != nil) {
				t.Fatalf("expected memo present=%v, got %#v", tt.memo != nil, got.Get("memo"))
			}
			if !schema.Equal(got, obj) {
				t.Fatalf("round trip changed the object: %v", got)
			}
		})
	}
}
