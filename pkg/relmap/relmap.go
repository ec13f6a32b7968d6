// Package relmap maps record types to relational tables. It derives table
// layouts from explicit record type declarations, renders the SQL to create
// tables and insert object graphs, and reads object graphs back from rows.
//
// Typical usage:
//
//	p, _ := relmap.New(relmap.DefaultConfig())
//	defer p.Close()
//
//	p.Persist(ctx, Person, Address)
//	p.Insert(ctx, person)
//	got, _ := p.Read(ctx, Person, "alice")
package relmap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/relmap/internal/client"
	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/registry"
	"github.com/rzpsarthak13/relmap/internal/schema"
	"github.com/rzpsarthak13/relmap/internal/write"
)

// Record declaration types.
type (
	RecordType = schema.RecordType
	Field      = schema.Field
	EnumType   = schema.EnumType
	Object     = schema.Object
	AutoID     = schema.AutoID
	Schema     = schema.Schema
)

// Field constructors.
var (
	NewRecordType = schema.NewRecordType
	NewEnum       = schema.NewEnum
	NewObject     = schema.NewObject
	Equal         = schema.Equal

	Bool   = schema.Bool
	Int    = schema.Int
	Long   = schema.Long
	Double = schema.Double
	String = schema.String
	Enum   = schema.Enum
	Nested = schema.Nested
	List   = schema.List
	Map    = schema.Map
)

// Error types returned by the persister, and the interfaces that can
// replace its components.
type (
	SchemaDefinitionError   = core.SchemaDefinitionError
	MissingKeyValueError    = core.MissingKeyValueError
	UnknownEnumValueError   = core.UnknownEnumValueError
	StatementExecutionError = core.StatementExecutionError
	StatementExecutor       = core.StatementExecutor
	RowAccessor             = core.RowAccessor
	SequenceAllocator       = core.SequenceAllocator
	WriteBackQueue          = core.WriteBackQueue
	LifecycleHook           = registry.LifecycleHook
	LifecycleHookFunc       = registry.LifecycleHookFunc
)

var (
	// ErrNotFound is returned by Read when no row has the key.
	ErrNotFound = core.ErrNotFound

	// ErrMissingValue is returned when a required field is not set.
	ErrMissingValue = core.ErrMissingValue

	// ErrInvalidRecord wraps validation failures of inserted objects.
	ErrInvalidRecord = write.ErrInvalidRecord

	// ErrNoDatabase is returned by operations that need a database when
	// none is configured.
	ErrNoDatabase = client.ErrNoDatabase

	// ErrClosed is returned after Close.
	ErrClosed = client.ErrClosed
)

// Persister stores and loads object graphs.
type Persister interface {
	// Persist registers the record types as top-level tables and creates
	// their tables, referenced tables and relation tables if missing. All
	// types of one call are registered before any layout is derived.
	Persist(ctx context.Context, types ...*RecordType) error

	// Register registers the record types without touching the database.
	Register(ctx context.Context, types ...*RecordType) ([]*Schema, error)

	// DDL registers the record types and returns their CREATE TABLE
	// statements, referenced tables first.
	DDL(ctx context.Context, types ...*RecordType) ([]string, error)

	// Statements returns the INSERT statements for obj without executing
	// them. Auto-id counters are allocated.
	Statements(ctx context.Context, obj *Object) ([]string, error)

	// Insert writes obj, every record it references and its relation rows.
	Insert(ctx context.Context, obj *Object) error

	// InsertAsync queues the insert of obj for the background drainer.
	InsertAsync(ctx context.Context, obj *Object) error

	// Read returns the object of type t with the given key values, in key
	// column order. Auto-id types take the hash and the counter.
	Read(ctx context.Context, t *RecordType, keyValues ...interface{}) (*Object, error)

	// ReadBy returns the objects of type t whose field at a dotted path,
	// such as "address.city", equals value.
	ReadBy(ctx context.Context, t *RecordType, path string, value interface{}) ([]*Object, error)

	// Tables returns the names of the registered tables.
	Tables() []string

	// RegisterHook adds a hook called when tables are registered and
	// created.
	RegisterHook(hook LifecycleHook)

	// Start starts the background drainer of queued inserts.
	Start(ctx context.Context) error

	// Stop stops the background drainer.
	Stop() error

	// Flush executes every queued insert now. The drainer must be stopped.
	Flush(ctx context.Context) error

	// QueueSize returns the number of queued inserts.
	QueueSize() int

	// Close stops the drainer and releases connections.
	Close() error
}

// Option replaces a component built from the configuration.
type Option func(*client.Options)

// WithExecutor runs statements through exec instead of a configured database.
func WithExecutor(exec StatementExecutor) Option {
	return func(o *client.Options) { o.Executor = exec }
}

// WithAllocator allocates auto-id counters through alloc.
func WithAllocator(alloc SequenceAllocator) Option {
	return func(o *client.Options) { o.Allocator = alloc }
}

// WithQueue queues asynchronous inserts on queue.
func WithQueue(queue WriteBackQueue) Option {
	return func(o *client.Options) { o.Queue = queue }
}

// WithLogger logs through logger instead of one built from the configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *client.Options) {
		if logger != nil {
			o.Logger = logger.Sugar()
		}
	}
}

// configProvider implements client.ConfigProvider to provide config as YAML without import cycles.
type configProvider struct {
	config *Config
}

func (cp *configProvider) GetYAML() ([]byte, error) {
	return yaml.Marshal(cp.config)
}

// New creates a persister. A nil config uses DefaultConfig.
func New(config *Config, opts ...Option) (Persister, error) {
	if config == nil {
		config = DefaultConfig()
	}
	var o client.Options
	for _, opt := range opts {
		opt(&o)
	}
	impl, err := client.NewClientImpl(&configProvider{config: config}, o)
	if err != nil {
		return nil, fmt.Errorf("relmap: %w", err)
	}
	return impl, nil
}
