package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rzpsarthak13/relmap/pkg/relmap"
)

var (
	Color = relmap.NewEnum("Color", "RED", "GREEN", "BLUE")

	SimpleObject = relmap.NewRecordType("SimpleObject",
		relmap.Int("y").Key(),
	)

	Pair = relmap.NewRecordType("Pair",
		relmap.Int("x").Key(),
		relmap.Nested("s", SimpleObject),
		relmap.Nested("t", SimpleObject).Optional(),
	)

	Point = relmap.NewRecordType("Point",
		relmap.String("x"),
		relmap.Int("y"),
	)

	Shape = relmap.NewRecordType("Shape",
		relmap.String("name").Key(),
		relmap.Enum("color", Color),
		relmap.Nested("lower", Point),
		relmap.List("vertices", Point),
		relmap.Map("tags", SimpleObject),
	)

	Event = relmap.NewRecordType("Event",
		relmap.String("kind"),
		relmap.Double("weight"),
		relmap.Bool("urgent"),
	)
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	ddlOnly := flag.Bool("ddl-only", false, "print the CREATE TABLE statements and exit")
	flag.Parse()

	config := relmap.DefaultConfig()
	if *configPath != "" {
		var err error
		if config, err = relmap.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	p, err := relmap.New(config)
	if err != nil {
		log.Fatalf("Failed to create persister: %v", err)
	}
	defer p.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	types := []*relmap.RecordType{SimpleObject, Pair, Shape, Event}
	ddl, err := p.DDL(ctx, types...)
	if err != nil {
		log.Fatalf("Failed to derive tables: %v", err)
	}
	for _, stmt := range ddl {
		fmt.Println(stmt)
	}
	if *ddlOnly {
		return
	}

	objects := sampleObjects()
	if config.Database.Type == "" {
		fmt.Println()
		for _, obj := range objects {
			stmts, err := p.Statements(ctx, obj)
			if err != nil {
				log.Fatalf("Failed to render %s: %v", obj.Type().Name(), err)
			}
			for _, stmt := range stmts {
				fmt.Println(stmt)
			}
		}
		return
	}

	if err := run(ctx, p, types, objects); err != nil {
		log.Fatalf("Demo failed: %v", err)
	}
}

func run(ctx context.Context, p relmap.Persister, types []*relmap.RecordType, objects []*relmap.Object) error {
	if err := p.Persist(ctx, types...); err != nil {
		return err
	}
	for _, obj := range objects {
		if err := p.Insert(ctx, obj); err != nil {
			return fmt.Errorf("insert %s: %w", obj.Type().Name(), err)
		}
	}

	pair, err := p.Read(ctx, Pair, int32(1))
	if err != nil {
		return err
	}
	fmt.Printf("Pair 1: s.y=%v same instance as t: %v\n",
		pair.Get("s").(*relmap.Object).Get("y"), pair.Get("s") == pair.Get("t"))

	shapes, err := p.ReadBy(ctx, Shape, "lower.x", "5")
	if err != nil {
		return err
	}
	for _, s := range shapes {
		fmt.Printf("Shape %v: %d vertices, round trip equal: %v\n",
			s.Get("name"), len(s.Get("vertices").([]*relmap.Object)), relmap.Equal(s, objects[1]))
	}

	// The same event inserted asynchronously twice gets two counters.
	for i := 0; i < 2; i++ {
		if err := p.InsertAsync(ctx, objects[2]); err != nil {
			return err
		}
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	deadline := time.Now().Add(5 * time.Second)
	for p.QueueSize() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if err := p.Stop(); err != nil {
		return err
	}
	events, err := p.ReadBy(ctx, Event, "kind", "deploy")
	if err != nil && !errors.Is(err, relmap.ErrNotFound) {
		return err
	}
	fmt.Printf("Events stored: %d\n", len(events))
	return nil
}

func sampleObjects() []*relmap.Object {
	six := relmap.NewObject(SimpleObject).MustSet("y", int32(6))
	pair := relmap.NewObject(Pair).
		MustSet("x", int32(1)).
		MustSet("s", six).
		MustSet("t", six)

	vertex := func(x string, y int32) *relmap.Object {
		return relmap.NewObject(Point).MustSet("x", x).MustSet("y", y)
	}
	shape := relmap.NewObject(Shape).
		MustSet("name", "triangle").
		MustSet("color", "GREEN").
		MustSet("lower", vertex("5", 6)).
		MustSet("vertices", []*relmap.Object{vertex("0", 0), vertex("4", 0), vertex("0", 3)}).
		MustSet("tags", map[string]*relmap.Object{"primary": six})

	event := relmap.NewObject(Event).
		MustSet("kind", "deploy").
		MustSet("weight", 1.5).
		MustSet("urgent", true)

	return []*relmap.Object{pair, shape, event}
}
