package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rzpsarthak13/relmap/internal/schema"
)

func TestRegisterRecordsDependenciesFirst(t *testing.T) {
	simple := schema.NewRecordType("SimpleObject", schema.Int("y").Key())
	owner := schema.NewRecordType("Owner", schema.Int("x").Key(), schema.Nested("s", simple))

	var order []string
	lm := NewLifecycleManager()
	lm.RegisterHook(LifecycleHookFunc{
		OnRegisterFunc: func(ctx context.Context, s *schema.Schema) error {
			order = append(order, s.Table)
			return nil
		},
	})

	tr := NewTableRegistry(nil, lm)
	ctx := context.Background()
	if err := tr.Declare(simple); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	s, err := tr.Register(ctx, owner)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if strings.Join(order, ",") != "SimpleObject,Owner" {
		t.Fatalf("expected dependencies to be recorded first, got %v", order)
	}
	if got := strings.Join(tr.List(), ","); got != "Owner,SimpleObject" {
		t.Fatalf("unexpected tables %s", got)
	}
	if tr.Count() != 2 {
		t.Fatalf("expected 2 tables, got %d", tr.Count())
	}

	again, err := tr.Register(ctx, owner)
	if err != nil || again != s {
		t.Fatalf("registering twice must return the same schema, err=%v", err)
	}
	if len(order) != 2 {
		t.Fatalf("register hooks must run once per table, ran %d times", len(order))
	}

	got, err := tr.Schema(simple)
	if err != nil || got.Table != "SimpleObject" {
		t.Fatalf("Schema(simple) = %v, %v", got, err)
	}
	if _, err := tr.Schema(schema.NewRecordType("Unknown", schema.Int("x"))); err == nil {
		t.Fatalf("expected an error for an unregistered type")
	}
	if _, err := tr.Get("Owner"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}

func TestMarkCreated(t *testing.T) {
	rt := schema.NewRecordType("T", schema.Int("x").Key())
	boom := errors.New("refused")
	fail := true

	lm := NewLifecycleManager()
	lm.RegisterHook(LifecycleHookFunc{
		OnCreateFunc: func(ctx context.Context, s *schema.Schema) error {
			if fail {
				return boom
			}
			return nil
		},
	})
	tr := NewTableRegistry(nil, lm)
	ctx := context.Background()
	if _, err := tr.Register(ctx, rt); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := tr.MarkCreated(ctx, "T"); !errors.Is(err, boom) {
		t.Fatalf("expected the hook error, got %v", err)
	}
	if created, _ := tr.IsCreated("T"); created {
		t.Fatalf("a failed create hook must leave the table uncreated")
	}
	if got := tr.ListPending(); len(got) != 1 || got[0] != "T" {
		t.Fatalf("expected T to be pending, got %v", got)
	}

	fail = false
	if err := tr.MarkCreated(ctx, "T"); err != nil {
		t.Fatalf("MarkCreated failed: %v", err)
	}
	md, err := tr.GetMetadata("T")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if !md.Created || md.CreatedAt == nil {
		t.Fatalf("expected created metadata, got %+v", md)
	}
	if len(tr.ListPending()) != 0 {
		t.Fatalf("expected no pending tables")
	}

	md.Created = false
	if created, _ := tr.IsCreated("T"); !created {
		t.Fatalf("GetMetadata must return a copy")
	}

	if err := tr.MarkCreated(ctx, "Missing"); err == nil {
		t.Fatalf("expected an error for an unknown table")
	}
	if _, err := tr.IsCreated("Missing"); err == nil {
		t.Fatalf("expected an error for an unknown table")
	}
}

func TestRegisterHookFailure(t *testing.T) {
	lm := NewLifecycleManager()
	lm.RegisterHook(LifecycleHookFunc{
		OnRegisterFunc: func(ctx context.Context, s *schema.Schema) error {
			return errors.New("no")
		},
	})
	tr := NewTableRegistry(nil, lm)
	if _, err := tr.Register(context.Background(), schema.NewRecordType("T", schema.Int("x").Key())); err == nil {
		t.Fatalf("expected the register hook error")
	}
	if tr.Count() != 0 {
		t.Fatalf("a failed hook must not record the table")
	}
}

func TestRegisterSchemaError(t *testing.T) {
	tr := NewTableRegistry(nil, nil)
	if _, err := tr.Register(context.Background(), schema.NewRecordType("Empty")); err == nil {
		t.Fatalf("expected a schema definition error")
	}
}

func TestRefreshConfig(t *testing.T) {
	cm := NewConfigManager()
	tr := NewTableRegistry(cm, nil)
	ctx := context.Background()
	if _, err := tr.Register(ctx, schema.NewRecordType("Event", schema.String("kind"))); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := cm.LoadFromYAML([]byte("tables:\n  Event:\n    drain_rate: 7\n")); err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}
	tr.RefreshConfig()

	md, err := tr.GetMetadata("Event")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if md.Config.DrainRate != 7 {
		t.Fatalf("expected refreshed drain rate 7, got %d", md.Config.DrainRate)
	}
}

func TestLifecycleManager(t *testing.T) {
	lm := NewLifecycleManager()
	var calls []string
	for _, name := range []string{"first", "second"} {
		name := name
		lm.RegisterHook(LifecycleHookFunc{
			OnCreateFunc: func(ctx context.Context, s *schema.Schema) error {
				calls = append(calls, name)
				return nil
			},
		})
	}
	lm.RegisterHook(LifecycleHookFunc{})

	if lm.HookCount() != 3 {
		t.Fatalf("expected 3 hooks, got %d", lm.HookCount())
	}
	if err := lm.ExecuteCreateHooks(context.Background(), nil); err != nil {
		t.Fatalf("ExecuteCreateHooks failed: %v", err)
	}
	if err := lm.ExecuteRegisterHooks(context.Background(), nil); err != nil {
		t.Fatalf("nil functions must be skipped, got %v", err)
	}
	if strings.Join(calls, ",") != "first,second" {
		t.Fatalf("hooks must run in registration order, got %v", calls)
	}
}
